// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/culture-thirst/fontaine/internal/fountain"
)

// CreateSession persists a newly opened session record.
// Implements fountain.SessionStore.
func (s *Store) CreateSession(ctx context.Context, sess *fountain.Session) error {
	return s.update(ctx, "create_session", func(txn *badger.Txn) error {
		return setJSON(txn, sessionKeyPrefix+sess.ID, sess)
	})
}

// CloseSession marks a session record inactive with its final water total.
// Implements fountain.SessionStore.
func (s *Store) CloseSession(ctx context.Context, sessionID string, finalLiters float64) error {
	return s.update(ctx, "close_session", func(txn *badger.Txn) error {
		var sess fountain.Session
		err := getJSON(txn, sessionKeyPrefix+sessionID, &sess)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return err
		}
		sess.IsActive = false
		sess.WaterDispensed = finalLiters
		return setJSON(txn, sessionKeyPrefix+sessionID, &sess)
	})
}

// GetSession reads a session record.
func (s *Store) GetSession(sessionID string) (*fountain.Session, error) {
	var sess fountain.Session
	err := s.view("get_session", func(txn *badger.Txn) error {
		err := getJSON(txn, sessionKeyPrefix+sessionID, &sess)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// EnqueuePendingClose durably records a close intent so it survives a
// restart before reconciliation applies it.
func (s *Store) EnqueuePendingClose(ctx context.Context, p *fountain.PendingClose) error {
	return s.update(ctx, "enqueue_pending", func(txn *badger.Txn) error {
		return setJSON(txn, pendingKeyPrefix+p.SessionID, p)
	})
}

// ListPendingCloses returns every close intent not yet applied, for replay
// at startup.
func (s *Store) ListPendingCloses() ([]*fountain.PendingClose, error) {
	var out []*fountain.PendingClose
	err := s.view("list_pending", func(txn *badger.Txn) error {
		entries, err := scanJSON[fountain.PendingClose](txn, pendingKeyPrefix)
		if err != nil {
			return err
		}
		for i := range entries {
			out = append(out, &entries[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
