// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/settings"
)

// evaluateTimeRules implements step 4. Device-specific enabled rules take
// precedence: when any exist for this device on the current day, user-wide
// rules for that day are ignored.
func (e *Engine) evaluateTimeRules(ctx context.Context, session *models.Session, now time.Time) (Decision, bool) {
	offset, err := parseUTCOffset(e.store.GetString(ctx, settings.KeyTimezone))
	if err != nil {
		logging.Warn().Err(err).Msg("invalid TIMEZONE setting, treating as +00:00")
		offset = 0
	}

	wallClock := now.UTC().Add(offset)
	dayOfWeek := int(wallClock.Weekday())
	hhmm := wallClock.Format("15:04")

	rules, err := e.db.ListEnabledTimeRules(ctx, session.User.ID, dayOfWeek)
	if err != nil {
		logging.Error().Err(err).Str("session", session.SessionKey).
			Msg("time rule read failed during evaluation, failing open")
		return Decision{}, false
	}
	if len(rules) == 0 {
		return Decision{}, false
	}

	applicable := applicableRules(rules, session.Player.MachineID)
	for _, rule := range applicable {
		if rule.Contains(hhmm) {
			return block(session.SessionKey, session.SessionID, session.User.ID,
				StopTimeRestricted, e.store.GetString(ctx, settings.KeyMsgTimeRestricted)), true
		}
	}

	return Decision{}, false
}

// applicableRules selects the rule set for one device on one day: the
// device-specific rules when any exist, the user-wide rules otherwise.
func applicableRules(rules []*models.TimeRule, machineID string) []*models.TimeRule {
	var deviceRules, userRules []*models.TimeRule
	for _, rule := range rules {
		switch {
		case rule.DeviceIdentifier == machineID && machineID != "":
			deviceRules = append(deviceRules, rule)
		case !rule.DeviceSpecific():
			userRules = append(userRules, rule)
		}
	}
	if len(deviceRules) > 0 {
		return deviceRules
	}
	return userRules
}

// parseUTCOffset parses a fixed offset of the form "+HH:MM" or "-HH:MM".
// Time-rule evaluation adds it to UTC and compares naive wall-clock
// strings; there is no DST handling.
func parseUTCOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	sign := time.Duration(1)
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}

	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("timezone offset %q is not ±HH:MM", s)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 || hours > 14 {
		return 0, fmt.Errorf("timezone offset hours %q out of range", hh)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("timezone offset minutes %q out of range", mm)
	}

	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute), nil
}
