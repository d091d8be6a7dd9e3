// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package fountain

import "errors"

var (
	// ErrInvalidFountainID is returned for a malformed scan input. The
	// session is not created; the user re-scans.
	ErrInvalidFountainID = errors.New("invalid fountain id")

	// ErrSessionAlreadyActive is returned when a second session is opened
	// for a (user, fountain) pair that already has one live.
	ErrSessionAlreadyActive = errors.New("session already active")

	// ErrSessionCreate signals a transport or allocation failure while
	// creating the session record. The caller may retry the scan.
	ErrSessionCreate = errors.New("session create failed")

	// ErrSessionNotFound is returned for operations on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned for mutations of a session already in
	// its terminal state.
	ErrSessionClosed = errors.New("session already closed")

	// ErrReconciliationApply signals a failure persisting a computed delta.
	// The close stays in PENDING_CLOSE and is retried with the same session
	// id and final total.
	ErrReconciliationApply = errors.New("reconciliation apply failed")

	// ErrNegativeLiters is returned when a reconciliation input is negative.
	ErrNegativeLiters = errors.New("session liters must be non-negative")
)
