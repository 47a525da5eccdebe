// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/plexguard/plexguard/internal/logging"
)

// Handler consumes one decoded event message. A non-nil error is logged and
// swallowed; it never reaches the publisher.
type Handler func(msg *message.Message) error

// Bus is the in-process publish/subscribe fabric.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the bus. Publish blocks until every current subscriber has
// acked, so events from one tick are fully delivered before the next tick
// emits.
func NewBus() *Bus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, newWatermillLogger())

	return &Bus{pubsub: pubsub}
}

// Publish marshals the event and publishes it on the topic. Errors are
// logged, not returned: enforcement must not fail because a notifier does.
func (b *Bus) Publish(topic string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("event marshal failed")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}

// Subscribe registers a named handler for a topic. The handler runs on its
// own goroutine; panics and errors are logged and isolated, and the message
// is acked either way so one broken subscriber cannot stall the bus.
func (b *Bus) Subscribe(ctx context.Context, topic, name string, handler Handler) error {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", name, topic, err)
	}

	go func() {
		for msg := range msgs {
			b.dispatch(topic, name, handler, msg)
		}
	}()

	return nil
}

// dispatch invokes one handler with panic isolation.
func (b *Bus) dispatch(topic, name string, handler Handler, msg *message.Message) {
	defer msg.Ack()
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("topic", topic).Str("subscriber", name).
				Interface("panic", r).Msg("event subscriber panicked")
		}
	}()

	if err := handler(msg); err != nil {
		logging.Error().Err(err).Str("topic", topic).Str("subscriber", name).
			Msg("event subscriber failed")
	}
}

// Close shuts down the pub/sub fabric and closes subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Unmarshal decodes an event payload into out.
func Unmarshal(msg *message.Message, out interface{}) error {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}

// watermillLogger bridges Watermill's logging to zerolog.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	// gochannel lifecycle chatter lands at debug.
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func (l *watermillLogger) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
