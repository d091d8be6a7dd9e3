// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/culture-thirst/fontaine/internal/fountain"
	"github.com/culture-thirst/fontaine/internal/logging"
	"github.com/culture-thirst/fontaine/internal/metrics"
)

// ApplyResult reports what a reconciliation pass did.
type ApplyResult struct {
	// Duplicate is true when the session's delta had already been applied
	// and nothing changed.
	Duplicate bool

	// Delta is the increment this session contributed. Zero on duplicates.
	Delta fountain.Delta

	// User is the user record after the apply.
	User *UserRecord

	// Machine and Department are the rollups after the apply.
	Machine    *Rollup
	Department *Rollup
}

// ApplySession folds one pending close into every aggregate in a single
// transaction: the user's cumulative state, its student leaderboard mirror,
// the school leaderboard, and the machine and department rollups. A marker
// keyed by session id makes the whole pass exactly-once: a retried or
// duplicated intent reads the marker and returns Duplicate without writing.
//
// A close for an unknown user seeds a zero-state record first so dispensed
// water is never dropped; the account fills in its profile on first login.
func (s *Store) ApplySession(ctx context.Context, p *fountain.PendingClose) (*ApplyResult, error) {
	res := &ApplyResult{}

	err := s.update(ctx, "apply_session", func(txn *badger.Txn) error {
		*res = ApplyResult{}

		applied, err := exists(txn, appliedKeyPrefix+p.SessionID)
		if err != nil {
			return err
		}
		if applied {
			res.Duplicate = true
			return s.loadApplyAggregates(txn, p, res)
		}

		var rec UserRecord
		err = getJSON(txn, userKeyPrefix+p.UserID, &rec)
		if errors.Is(err, badger.ErrKeyNotFound) {
			rec = UserRecord{
				ID:            p.UserID,
				UnlockedPoems: []string{},
				CreatedAt:     time.Now().UnixMilli(),
			}
		} else if err != nil {
			return err
		}

		next, delta, err := fountain.Reconcile(rec.State(), p.FinalLiters)
		if err != nil {
			return err
		}
		rec.BottlesRecycled = next.BottlesRecycled
		rec.PartialLiters = next.PartialLiters
		rec.UnlockedPoems = next.UnlockedPoems
		if err := setJSON(txn, userKeyPrefix+p.UserID, &rec); err != nil {
			return err
		}

		if err := s.mirrorLeaderboards(txn, &rec, delta.BottlesCompleted); err != nil {
			return err
		}

		rd := RollupDelta{
			WaterLiters:          delta.LitersAdded,
			PlasticRecycledGrams: delta.PlasticGrams,
		}
		if err := applyRollupDelta(txn, p.Key, rd); err != nil {
			return err
		}

		if err := txn.Set([]byte(appliedKeyPrefix+p.SessionID), []byte("1")); err != nil {
			return err
		}
		if err := txn.Delete([]byte(pendingKeyPrefix + p.SessionID)); err != nil {
			return err
		}

		res.Delta = delta
		return s.loadApplyAggregates(txn, p, res)
	})
	if err != nil {
		return nil, fmt.Errorf("apply session %s: %w", p.SessionID, err)
	}

	if res.Duplicate {
		metrics.ReconciliationsDuplicate.Inc()
		logging.Debug().
			Str("session_id", p.SessionID).
			Msg("Reconciliation skipped, delta already applied")
		return res, nil
	}

	metrics.Reconciliations.Inc()
	metrics.BottlesCompleted.Add(float64(res.Delta.BottlesCompleted))
	metrics.LitersReconciled.Add(res.Delta.LitersAdded)
	logging.Info().
		Str("session_id", p.SessionID).
		Str("user_id", p.UserID).
		Str("key", p.Key.String()).
		Float64("liters", p.FinalLiters).
		Int("bottles", res.Delta.BottlesCompleted).
		Str("trigger", p.Trigger).
		Msg("Session reconciled")
	return res, nil
}

// mirrorLeaderboards keeps the leaderboard entries consistent with the
// user record inside the apply transaction.
func (s *Store) mirrorLeaderboards(txn *badger.Txn, rec *UserRecord, bottlesDelta int) error {
	var student StudentEntry
	err := getJSON(txn, studentLBKeyPrefix+rec.ID, &student)
	if errors.Is(err, badger.ErrKeyNotFound) {
		student = StudentEntry{
			UserID:      rec.ID,
			DisplayName: rec.DisplayName,
			SchoolName:  rec.SchoolName,
			CreatedAt:   rec.CreatedAt,
		}
	} else if err != nil {
		return err
	}
	student.Bottles = rec.BottlesRecycled
	if err := setJSON(txn, studentLBKeyPrefix+rec.ID, &student); err != nil {
		return err
	}

	// Sessions closed before the account has a school accrue only to the
	// student board.
	if rec.SchoolName == "" || bottlesDelta == 0 {
		return nil
	}

	sk := schoolKey(rec.SchoolName)
	var school SchoolEntry
	err = getJSON(txn, schoolLBKeyPrefix+sk, &school)
	if errors.Is(err, badger.ErrKeyNotFound) {
		school = SchoolEntry{ID: sk, Name: rec.SchoolName, CreatedAt: rec.CreatedAt}
	} else if err != nil {
		return err
	}
	school.Bottles += bottlesDelta
	return setJSON(txn, schoolLBKeyPrefix+sk, &school)
}

// loadApplyAggregates fills the result's post-apply views from the same
// transaction, so callers see a consistent snapshot.
func (s *Store) loadApplyAggregates(txn *badger.Txn, p *fountain.PendingClose, res *ApplyResult) error {
	var rec UserRecord
	err := getJSON(txn, userKeyPrefix+p.UserID, &rec)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	if err == nil {
		res.User = &rec
	}

	var machine Rollup
	err = getJSON(txn, machineKey(p.Key), &machine)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	res.Machine = &machine

	var dept Rollup
	err = getJSON(txn, deptKey(p.Key.Date, p.Key.Department), &dept)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	res.Department = &dept
	return nil
}
