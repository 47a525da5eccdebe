// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package database

import "errors"

// Common repository errors.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoteAlreadySubmitted indicates the device has used its single
	// note submission.
	ErrNoteAlreadySubmitted = errors.New("device note already submitted")
)
