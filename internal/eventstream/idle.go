// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package eventstream

import (
	"context"
	"time"

	"github.com/culture-thirst/fontaine/internal/fountain"
	"github.com/culture-thirst/fontaine/internal/logging"
)

// PendingApplier drives a captured close intent to completion. Satisfied
// by the Processor.
type PendingApplier interface {
	ClosePending(ctx context.Context, pending *fountain.PendingClose) error
}

// IdleCloser sweeps the tracker for sessions whose flow went quiet and
// drives their close through the same apply path as terminal events. Each
// sweep also re-drives intents stuck in PENDING_CLOSE after a failed
// apply, so a stop or terminal that could not commit retries in-process
// instead of waiting for a restart replay. The sweep interval is half the
// idle delay so a session closes at most 1.5x the configured delay after
// its last snapshot.
type IdleCloser struct {
	tracker   *fountain.Tracker
	applier   PendingApplier
	idleAfter time.Duration
}

// NewIdleCloser creates the sweeper. idleAfter below one second is raised
// to one second.
func NewIdleCloser(tracker *fountain.Tracker, applier PendingApplier, idleAfter time.Duration) *IdleCloser {
	if idleAfter < time.Second {
		idleAfter = time.Second
	}
	return &IdleCloser{tracker: tracker, applier: applier, idleAfter: idleAfter}
}

// Serve runs the sweep loop until the context is canceled.
func (ic *IdleCloser) Serve(ctx context.Context) error {
	interval := ic.idleAfter / 2
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ic.sweep(ctx)
		}
	}
}

func (ic *IdleCloser) sweep(ctx context.Context) {
	driven := make(map[string]struct{})
	for _, pending := range ic.tracker.BeginIdleCloses(ic.idleAfter) {
		driven[pending.SessionID] = struct{}{}
		if err := ic.applier.ClosePending(ctx, pending); err != nil {
			// The intent stays pending; the next sweep retries it.
			logging.Error().
				Err(err).
				Str("session_id", pending.SessionID).
				Msg("Idle close apply failed")
			continue
		}
		logging.Info().
			Str("session_id", pending.SessionID).
			Float64("final_liters", pending.FinalLiters).
			Msg("Session closed after idle period")
	}

	// Intents left pending by any earlier failed apply, whatever its
	// trigger. ClosePending is idempotent, so racing a retried stop on
	// the same intent is safe.
	for _, pending := range ic.tracker.PendingCloses() {
		if _, ok := driven[pending.SessionID]; ok {
			continue
		}
		if err := ic.applier.ClosePending(ctx, pending); err != nil {
			logging.Error().
				Err(err).
				Str("session_id", pending.SessionID).
				Msg("Pending close retry failed")
			continue
		}
		logging.Info().
			Str("session_id", pending.SessionID).
			Str("trigger", pending.Trigger).
			Msg("Stalled pending close completed")
	}
}
