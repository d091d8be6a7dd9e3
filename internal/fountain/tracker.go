// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package fountain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStore persists session records. The Tracker is the sole writer of
// IsActive and WaterDispensed while a session is live.
type SessionStore interface {
	// CreateSession persists a newly opened session record.
	CreateSession(ctx context.Context, s *Session) error

	// CloseSession marks the record inactive with its final water total.
	// The record is immutable afterward.
	CloseSession(ctx context.Context, sessionID string, finalLiters float64) error
}

// PendingClose is a captured close intent: the session's final total,
// waiting for reconciliation to apply. Durable intents survive restarts
// and are retried until they succeed.
type PendingClose struct {
	SessionID   string  `json:"sessionId"`
	UserID      string  `json:"userId"`
	Key         FlowKey `json:"key"`
	FinalLiters float64 `json:"finalLiters"`
	Trigger     string  `json:"trigger"` // "terminal", "stop", "timeout"
}

// trackedSession is the Tracker's in-memory view of one live session.
type trackedSession struct {
	session *Session
	state   State
	// lastFlow is the time of the most recent snapshot that moved the
	// water total. Drives the idle close.
	lastFlow time.Time
	// pending holds the captured final total once the session enters
	// PENDING_CLOSE.
	pending *PendingClose
}

// Tracker owns the open/active/closed state machine for dispensing
// sessions. At most one session per (userID, fountainID) pair may be in
// SCANNING, ACTIVE, or PENDING_CLOSE at a time.
type Tracker struct {
	mu      sync.Mutex
	byOwner map[string]*trackedSession // userID + "\x00" + fountainID
	byID    map[string]*trackedSession
	store   SessionStore
	now     func() time.Time
	newID   func() string
}

// NewTracker creates a Tracker persisting through the given store.
func NewTracker(store SessionStore) *Tracker {
	return &Tracker{
		byOwner: make(map[string]*trackedSession),
		byID:    make(map[string]*trackedSession),
		store:   store,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

func ownerKey(userID string, fountain ID) string {
	return userID + "\x00" + fountain.String()
}

// Open starts a session for a scanned fountain identifier and moves it to
// ACTIVE once the record is persisted. Returns ErrInvalidFountainID for a
// malformed identifier, ErrSessionAlreadyActive for a duplicate open, and
// ErrSessionCreate (wrapping the cause) when persistence fails; the caller
// retries the scan in that case.
func (t *Tracker) Open(ctx context.Context, userID, fountainID string) (*Session, error) {
	fid, err := ParseID(fountainID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	key := ownerKey(userID, fid)
	if _, exists := t.byOwner[key]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: user %s fountain %s", ErrSessionAlreadyActive, userID, fid)
	}

	s := &Session{
		ID:             t.newID(),
		UserID:         userID,
		Fountain:       fid,
		StartTime:      t.now(),
		IsActive:       true,
		WaterDispensed: 0,
	}
	ts := &trackedSession{session: s, state: StateScanning}
	t.byOwner[key] = ts
	t.byID[s.ID] = ts
	t.mu.Unlock()

	// Await the create before going ACTIVE; every later write is
	// fire-and-forget with confirmation via the realtime channel.
	if err := t.store.CreateSession(ctx, s); err != nil {
		t.mu.Lock()
		delete(t.byOwner, key)
		delete(t.byID, s.ID)
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}

	t.mu.Lock()
	ts.state = StateActive
	t.mu.Unlock()
	return s, nil
}

// ApplyFlow delivers a flow snapshot for a watched key to every ACTIVE
// session on that key. Snapshots are idempotent cumulative values, not
// deltas: a duplicate delivery of the same value is a no-op, and an
// out-of-order lower value never regresses WaterDispensed.
//
// Returns the sessions whose tracked water actually changed.
func (t *Tracker) ApplyFlow(key FlowKey, liters float64) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	var updated []*Session
	for _, ts := range t.byID {
		if ts.state != StateActive || ts.session.Key() != key {
			continue
		}
		if liters <= ts.session.WaterDispensed {
			continue
		}
		ts.session.WaterDispensed = liters
		ts.lastFlow = t.now()
		updated = append(updated, ts.session)
	}
	return updated
}

// BeginClose transitions a session from ACTIVE to PENDING_CLOSE, capturing
// the final total to hand to reconciliation. Calling it again for a session
// already pending is a no-op returning the captured intent, so duplicate
// terminal payloads cannot double-close.
func (t *Tracker) BeginClose(sessionID string, finalLiters float64, trigger string) (*PendingClose, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	switch ts.state {
	case StatePendingClose:
		return ts.pending, nil
	case StateClosed:
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	if finalLiters < ts.session.WaterDispensed {
		// The terminal payload never reports less than the last snapshot;
		// keep the larger tracked value if it does.
		finalLiters = ts.session.WaterDispensed
	}

	ts.state = StatePendingClose
	ts.pending = &PendingClose{
		SessionID:   sessionID,
		UserID:      ts.session.UserID,
		Key:         ts.session.Key(),
		FinalLiters: finalLiters,
		Trigger:     trigger,
	}
	return ts.pending, nil
}

// BeginCloseByKey captures close intents for every ACTIVE session watching
// the given key. Used when the sensor reports a terminal transaction for a
// fountain rather than a specific session.
func (t *Tracker) BeginCloseByKey(key FlowKey, finalLiters float64, trigger string) []*PendingClose {
	t.mu.Lock()
	var ids []string
	for id, ts := range t.byID {
		if ts.state == StateActive && ts.session.Key() == key {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	var pendings []*PendingClose
	for _, id := range ids {
		if p, err := t.BeginClose(id, finalLiters, trigger); err == nil {
			pendings = append(pendings, p)
		}
	}
	return pendings
}

// BeginIdleCloses captures close intents for ACTIVE sessions whose flow
// stopped at least idleAfter ago. Sessions that never dispensed are left
// alone; the user may still be walking to the fountain after scanning.
func (t *Tracker) BeginIdleCloses(idleAfter time.Duration) []*PendingClose {
	t.mu.Lock()
	cutoff := t.now().Add(-idleAfter)
	var ids []string
	for id, ts := range t.byID {
		if ts.state != StateActive || ts.session.WaterDispensed == 0 {
			continue
		}
		if ts.lastFlow.Before(cutoff) || ts.lastFlow.Equal(cutoff) {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	var pendings []*PendingClose
	for _, id := range ids {
		if p, err := t.BeginClose(id, 0, "timeout"); err == nil {
			pendings = append(pendings, p)
		}
	}
	return pendings
}

// PendingCloses returns the captured intent of every session still in
// PENDING_CLOSE. A failed apply leaves its session here, so callers can
// re-drive the intent without waiting for a restart replay.
func (t *Tracker) PendingCloses() []*PendingClose {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pendings []*PendingClose
	for _, ts := range t.byID {
		if ts.state == StatePendingClose {
			pendings = append(pendings, ts.pending)
		}
	}
	return pendings
}

// CompleteClose finishes a PENDING_CLOSE session after its delta applied
// successfully: the record is persisted as closed and the session leaves
// the live set.
func (t *Tracker) CompleteClose(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	ts, ok := t.byID[sessionID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if ts.state != StatePendingClose {
		t.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", ErrSessionClosed, sessionID, ts.state)
	}
	pending := ts.pending
	t.mu.Unlock()

	if err := t.store.CloseSession(ctx, sessionID, pending.FinalLiters); err != nil {
		// Stays in PENDING_CLOSE; the intent is retried, never dropped.
		return fmt.Errorf("%w: %v", ErrReconciliationApply, err)
	}

	t.mu.Lock()
	ts.state = StateClosed
	ts.session.IsActive = false
	ts.session.WaterDispensed = pending.FinalLiters
	delete(t.byOwner, ownerKey(ts.session.UserID, ts.session.Fountain))
	delete(t.byID, sessionID)
	t.mu.Unlock()
	return nil
}

// Active returns the live session for a (user, fountain) pair, if any.
func (t *Tracker) Active(userID string, fountain ID) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.byOwner[ownerKey(userID, fountain)]
	if !ok || ts.state == StateClosed {
		return nil, false
	}
	return ts.session, true
}

// State reports the lifecycle state of a session id, or StateNone if the
// Tracker does not know it (closed sessions leave the live set).
func (t *Tracker) State(sessionID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts, ok := t.byID[sessionID]; ok {
		return ts.state
	}
	return StateNone
}
