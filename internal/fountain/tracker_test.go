// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package fountain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memSessionStore is an in-memory SessionStore for tracker tests.
type memSessionStore struct {
	mu       sync.Mutex
	created  map[string]*Session
	closed   map[string]float64
	failNext error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		created: make(map[string]*Session),
		closed:  make(map[string]float64),
	}
}

func (m *memSessionStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	cp := *s
	m.created[s.ID] = &cp
	return nil
}

func (m *memSessionStore) CloseSession(_ context.Context, id string, finalLiters float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if _, ok := m.created[id]; !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	m.closed[id] = finalLiters
	return nil
}

func newTestTracker(t *testing.T) (*Tracker, *memSessionStore) {
	t.Helper()
	store := newMemSessionStore()
	tr := NewTracker(store)
	tr.now = func() time.Time {
		return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	}
	return tr, store
}

func TestOpenRejectsMalformedID(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Open(context.Background(), "alice", "EPH"); !errors.Is(err, ErrInvalidFountainID) {
		t.Errorf("error = %v, want ErrInvalidFountainID", err)
	}
}

func TestOpenRejectsDuplicate(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.Open(ctx, "alice", "EPHEC01M02"); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := tr.Open(ctx, "alice", "EPHEC01M02"); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Errorf("second open error = %v, want ErrSessionAlreadyActive", err)
	}

	// A different fountain for the same user is fine.
	if _, err := tr.Open(ctx, "alice", "EPHEC01M03"); err != nil {
		t.Errorf("different fountain open: %v", err)
	}
}

func TestOpenCreateFailureFreesSlot(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	store.failNext = errors.New("transport down")

	if _, err := tr.Open(ctx, "alice", "EPHEC01M02"); !errors.Is(err, ErrSessionCreate) {
		t.Fatalf("error = %v, want ErrSessionCreate", err)
	}

	// The failed open must not leave a phantom active session.
	if _, err := tr.Open(ctx, "alice", "EPHEC01M02"); err != nil {
		t.Errorf("retry after create failure: %v", err)
	}
}

func TestApplyFlowSnapshotSemantics(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	s, err := tr.Open(ctx, "alice", "EPHEC01M02")
	if err != nil {
		t.Fatal(err)
	}
	key := s.Key()

	if updated := tr.ApplyFlow(key, 0.25); len(updated) != 1 {
		t.Fatalf("first snapshot updated %d sessions, want 1", len(updated))
	}
	if s.WaterDispensed != 0.25 {
		t.Errorf("water = %v, want 0.25", s.WaterDispensed)
	}

	// Duplicate delivery of the same snapshot is a no-op.
	if updated := tr.ApplyFlow(key, 0.25); len(updated) != 0 {
		t.Errorf("duplicate snapshot updated %d sessions, want 0", len(updated))
	}

	// Out-of-order lower value never regresses.
	if updated := tr.ApplyFlow(key, 0.10); len(updated) != 0 {
		t.Errorf("regressive snapshot updated %d sessions, want 0", len(updated))
	}
	if s.WaterDispensed != 0.25 {
		t.Errorf("water regressed to %v", s.WaterDispensed)
	}

	// Unrelated keys never match.
	other := FlowKey{Date: key.Date, Department: "BRUSS1", Serial: "K07"}
	if updated := tr.ApplyFlow(other, 9); len(updated) != 0 {
		t.Errorf("foreign key updated %d sessions", len(updated))
	}
}

func TestBeginCloseIdempotent(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	s, err := tr.Open(ctx, "alice", "EPHEC01M02")
	if err != nil {
		t.Fatal(err)
	}
	tr.ApplyFlow(s.Key(), 0.8)

	p1, err := tr.BeginClose(s.ID, 0.8, "terminal")
	if err != nil {
		t.Fatal(err)
	}
	if p1.FinalLiters != 0.8 {
		t.Errorf("final liters = %v, want 0.8", p1.FinalLiters)
	}

	// A duplicate terminal payload returns the same captured intent.
	p2, err := tr.BeginClose(s.ID, 0.8, "terminal")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("duplicate BeginClose returned a new intent")
	}
	if tr.State(s.ID) != StatePendingClose {
		t.Errorf("state = %v, want pending_close", tr.State(s.ID))
	}
}

func TestBeginCloseKeepsLargerTrackedValue(t *testing.T) {
	tr, _ := newTestTracker(t)
	s, err := tr.Open(context.Background(), "alice", "EPHEC01M02")
	if err != nil {
		t.Fatal(err)
	}
	tr.ApplyFlow(s.Key(), 1.5)

	p, err := tr.BeginClose(s.ID, 0.2, "stop")
	if err != nil {
		t.Fatal(err)
	}
	if p.FinalLiters != 1.5 {
		t.Errorf("final liters = %v, want tracked 1.5", p.FinalLiters)
	}
}

func TestCompleteCloseRetryAfterFailure(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()

	s, err := tr.Open(ctx, "alice", "EPHEC01M02")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.BeginClose(s.ID, 0.6, "terminal"); err != nil {
		t.Fatal(err)
	}

	store.failNext = errors.New("store unavailable")
	if err := tr.CompleteClose(ctx, s.ID); !errors.Is(err, ErrReconciliationApply) {
		t.Fatalf("error = %v, want ErrReconciliationApply", err)
	}
	if tr.State(s.ID) != StatePendingClose {
		t.Errorf("state after failed close = %v, want pending_close", tr.State(s.ID))
	}

	// Retry with the same intent succeeds and frees the owner slot.
	if err := tr.CompleteClose(ctx, s.ID); err != nil {
		t.Fatalf("retried close: %v", err)
	}
	if got := store.closed[s.ID]; got != 0.6 {
		t.Errorf("persisted final = %v, want 0.6", got)
	}
	if _, err := tr.Open(ctx, "alice", "EPHEC01M02"); err != nil {
		t.Errorf("open after close: %v", err)
	}
}

func TestBeginCloseByKey(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	s1, _ := tr.Open(ctx, "alice", "EPHEC01M02")
	s2, _ := tr.Open(ctx, "bob", "EPHEC01M02")
	if _, err := tr.Open(ctx, "carol", "EPHEC01M03"); err != nil {
		t.Fatal(err)
	}

	pendings := tr.BeginCloseByKey(s1.Key(), 0.4, "terminal")
	if len(pendings) != 2 {
		t.Fatalf("closed %d sessions for key, want 2", len(pendings))
	}
	for _, p := range pendings {
		if p.SessionID != s1.ID && p.SessionID != s2.ID {
			t.Errorf("unexpected session %s in close set", p.SessionID)
		}
	}
}

func TestPendingClosesSurfacesStalledIntents(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()

	s, err := tr.Open(ctx, "alice", "EPHEC01M02")
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.PendingCloses()) != 0 {
		t.Fatal("active session must not appear as pending")
	}

	p, err := tr.BeginClose(s.ID, 0.7, "stop")
	if err != nil {
		t.Fatal(err)
	}

	store.failNext = errors.New("store unavailable")
	if err := tr.CompleteClose(ctx, s.ID); err == nil {
		t.Fatal("expected close failure")
	}

	// The stalled intent stays visible until a retry completes it.
	stalled := tr.PendingCloses()
	if len(stalled) != 1 || stalled[0] != p {
		t.Fatalf("stalled intents = %v, want the captured intent", stalled)
	}

	if err := tr.CompleteClose(ctx, s.ID); err != nil {
		t.Fatalf("retried close: %v", err)
	}
	if len(tr.PendingCloses()) != 0 {
		t.Error("completed close should leave the pending set")
	}
}

func TestBeginIdleClosesSweepsQuietSessions(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	now := base
	tr.now = func() time.Time { return now }

	quiet, _ := tr.Open(ctx, "alice", "EPHEC01M02")
	fresh, _ := tr.Open(ctx, "bob", "EPHEC01M03")
	if _, err := tr.Open(ctx, "carol", "EPHEC01M04"); err != nil {
		t.Fatal(err)
	}

	tr.ApplyFlow(quiet.Key(), 0.8)
	now = base.Add(4 * time.Second)
	tr.ApplyFlow(fresh.Key(), 0.2)

	// alice went quiet 4 s ago, bob just flowed, carol never dispensed.
	pendings := tr.BeginIdleCloses(3 * time.Second)
	if len(pendings) != 1 {
		t.Fatalf("idle closes = %d, want 1", len(pendings))
	}
	p := pendings[0]
	if p.SessionID != quiet.ID {
		t.Errorf("closed session = %s, want %s", p.SessionID, quiet.ID)
	}
	if p.Trigger != "timeout" {
		t.Errorf("Trigger = %q, want timeout", p.Trigger)
	}
	if p.FinalLiters != 0.8 {
		t.Errorf("FinalLiters = %v, want the tracked total 0.8", p.FinalLiters)
	}

	// The sweep is idempotent; a second pass finds nothing new.
	if again := tr.BeginIdleCloses(3 * time.Second); len(again) != 0 {
		t.Errorf("second sweep closed %d sessions, want 0", len(again))
	}
}
