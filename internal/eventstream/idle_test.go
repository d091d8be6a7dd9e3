// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package eventstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/culture-thirst/fontaine/internal/fountain"
	"github.com/culture-thirst/fontaine/internal/store"
)

// fakeApplier stands in for the Processor. On success it completes the
// close the way the real apply path does.
type fakeApplier struct {
	tracker *fountain.Tracker
	calls   []*fountain.PendingClose
	err     error
}

func (a *fakeApplier) ClosePending(ctx context.Context, pending *fountain.PendingClose) error {
	a.calls = append(a.calls, pending)
	if a.err != nil {
		return a.err
	}
	return a.tracker.CompleteClose(ctx, pending.SessionID)
}

func TestSweepRetriesStalledPendingClose(t *testing.T) {
	st, err := store.Open(store.Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tracker := fountain.NewTracker(st)
	applier := &fakeApplier{tracker: tracker}
	ic := NewIdleCloser(tracker, applier, 3*time.Second)
	ctx := context.Background()

	sess, err := tracker.Open(ctx, "alice", "EPHEC01M02")
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	tracker.ApplyFlow(sess.Key(), 0.6)
	if _, err := tracker.BeginClose(sess.ID, 0, "stop"); err != nil {
		t.Fatalf("BeginClose failed: %v", err)
	}

	// First apply fails; the session must stay pending, not leak.
	applier.err = errors.New("apply down")
	ic.sweep(ctx)
	if len(applier.calls) != 1 {
		t.Fatalf("Got %d apply calls after failed sweep, want 1", len(applier.calls))
	}
	if tracker.State(sess.ID) != fountain.StatePendingClose {
		t.Fatalf("Got state %v, want pending_close", tracker.State(sess.ID))
	}

	// The next sweep re-drives the stalled intent without a restart.
	applier.err = nil
	ic.sweep(ctx)
	if len(applier.calls) != 2 {
		t.Fatalf("Got %d apply calls, want 2 (stalled intent re-driven)", len(applier.calls))
	}
	if applier.calls[1].FinalLiters != 0.6 || applier.calls[1].Trigger != "stop" {
		t.Errorf("Got re-driven intent %+v, want 0.6 L stop", applier.calls[1])
	}
	if tracker.State(sess.ID) != fountain.StateNone {
		t.Errorf("Got state %v after completed close, want none", tracker.State(sess.ID))
	}

	// Nothing left to drive.
	ic.sweep(ctx)
	if len(applier.calls) != 2 {
		t.Errorf("Got %d apply calls after drained sweep, want 2", len(applier.calls))
	}
}
