// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package policy

import (
	"context"
	"net"
	"strings"

	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/settings"
)

// evaluateIPPolicy implements step 3: network-policy first, then the
// per-user allow-list. Returns (decision, true) when the session is
// blocked.
func (e *Engine) evaluateIPPolicy(ctx context.Context, session *models.Session, pref *models.UserPreference) (Decision, bool) {
	if pref == nil {
		return Decision{}, false
	}

	location := session.Location()

	switch pref.NetworkPolicy {
	case models.NetworkPolicyLAN:
		if location != models.LocationLAN {
			return block(session.SessionKey, session.SessionID, session.User.ID,
				StopLANOnly, e.store.GetString(ctx, settings.KeyMsgIPLANOnly)), true
		}
	case models.NetworkPolicyWAN:
		if location != models.LocationWAN {
			return block(session.SessionKey, session.SessionID, session.User.ID,
				StopWANOnly, e.store.GetString(ctx, settings.KeyMsgIPWANOnly)), true
		}
	}

	if pref.IPAccessPolicy == models.IPAccessRestricted {
		if !addressAllowed(session.Player.Address, pref.AllowedIPs) {
			return block(session.SessionKey, session.SessionID, session.User.ID,
				StopIPNotAllowed, e.store.GetString(ctx, settings.KeyMsgIPNotAllowed)), true
		}
	}

	return Decision{}, false
}

// addressAllowed reports whether addr matches at least one allow-list
// entry: CIDR containment for entries with a prefix, exact IP equality
// otherwise. Malformed entries are logged and skipped; an unparsable
// source address never matches.
func addressAllowed(addr string, allowed []string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err != nil {
				logging.Debug().Str("entry", entry).Msg("skipping malformed CIDR in allow-list")
				continue
			}
			if cidr.Contains(ip) {
				return true
			}
			continue
		}

		allowedIP := net.ParseIP(entry)
		if allowedIP == nil {
			logging.Debug().Str("entry", entry).Msg("skipping malformed IP in allow-list")
			continue
		}
		if allowedIP.Equal(ip) {
			return true
		}
	}

	return false
}
