// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

// Package store is the BadgerDB-backed aggregate store: user consumption
// state, leaderboard mirrors, machine/department rollups, session history,
// poem reference data, and the session-keyed idempotency markers that make
// reconciliation retries safe.
//
// Every mutation is a fresh read-modify-write inside a single Badger
// transaction; transaction conflicts are retried, so concurrent writers
// never lose updates and no component ever writes back a stale record.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/culture-thirst/fontaine/internal/metrics"
)

// Key prefixes for BadgerDB storage.
const (
	userKeyPrefix      = "user:"
	studentLBKeyPrefix = "lb:student:"
	schoolLBKeyPrefix  = "lb:school:"
	machineKeyPrefix   = "rollup:machine:" // + date:department:serial
	deptKeyPrefix      = "rollup:dept:"    // + date:department
	sessionKeyPrefix   = "session:"
	pendingKeyPrefix   = "pending:"
	appliedKeyPrefix   = "applied:"
	poemKeyPrefix      = "poem:"
)

var (
	// ErrUserNotFound is returned for reads of an unknown user id.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when registering an already known user id.
	ErrUserExists = errors.New("user already exists")

	// ErrPoemNotFound is returned for reads of an unknown poem id.
	ErrPoemNotFound = errors.New("poem not found")

	// ErrSessionNotFound is returned for reads of an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

// Config holds store settings.
type Config struct {
	// Path is the Badger data directory.
	Path string

	// InMemory runs Badger without disk persistence. Tests only.
	InMemory bool
}

// Store wraps a Badger database with the aggregate operations.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the Badger database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil // Badger's own logger is too chatty; we log at our boundary
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened Badger database. Used by tests.
func NewWithDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflict so the
// operation always works against freshly read values.
func (s *Store) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	defer metrics.ObserveStoreTxn(op, time.Now())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			metrics.StoreTxnConflicts.Inc()
			continue
		}
		return err
	}
}

// view runs fn in a read-only transaction.
func (s *Store) view(op string, fn func(txn *badger.Txn) error) error {
	defer metrics.ObserveStoreTxn(op, time.Now())
	return s.db.View(fn)
}

// getJSON reads and unmarshals the value at key into out.
// Returns badger.ErrKeyNotFound untouched so callers can map it.
func getJSON(txn *badger.Txn, key string, out interface{}) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// setJSON marshals v and writes it at key.
func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// exists reports whether key is present.
func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
