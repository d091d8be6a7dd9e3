// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/culture-thirst/fontaine/internal/fountain"
)

// UserRecord is the persisted consumption state of one account.
type UserRecord struct {
	ID              string   `json:"userId"`
	Email           string   `json:"email"`
	DisplayName     string   `json:"displayName"`
	SchoolName      string   `json:"schoolName"`
	BottlesRecycled int      `json:"bottlesRecycled"`
	PartialLiters   float64  `json:"partialLiters"`
	BestRank        *int     `json:"bestRank"`
	UnlockedPoems   []string `json:"unlockedPoems"`
	CreatedAt       int64    `json:"createdAt"` // epoch milliseconds
}

// State extracts the reconciliation-relevant aspect of the record.
func (u *UserRecord) State() fountain.UserState {
	return fountain.UserState{
		BottlesRecycled: u.BottlesRecycled,
		PartialLiters:   u.PartialLiters,
		UnlockedPoems:   u.UnlockedPoems,
	}
}

// NewUser is the registration input.
type NewUser struct {
	ID          string `validate:"required"`
	Email       string `validate:"required,email"`
	DisplayName string `validate:"required"`
	SchoolName  string `validate:"required"`
}

// schoolKey normalizes a school name into a stable leaderboard key.
func schoolKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// CreateUser registers an account: the user record plus its student
// leaderboard entry, and the school leaderboard entry if this is the
// school's first student. All three are written in one transaction.
func (s *Store) CreateUser(ctx context.Context, nu NewUser) (*UserRecord, error) {
	now := time.Now().UnixMilli()
	rec := &UserRecord{
		ID:            nu.ID,
		Email:         nu.Email,
		DisplayName:   nu.DisplayName,
		SchoolName:    nu.SchoolName,
		UnlockedPoems: []string{},
		CreatedAt:     now,
	}

	err := s.update(ctx, "create_user", func(txn *badger.Txn) error {
		ok, err := exists(txn, userKeyPrefix+nu.ID)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: %s", ErrUserExists, nu.ID)
		}

		if err := setJSON(txn, userKeyPrefix+nu.ID, rec); err != nil {
			return err
		}

		student := StudentEntry{
			UserID:      nu.ID,
			DisplayName: nu.DisplayName,
			SchoolName:  nu.SchoolName,
			Bottles:     0,
			CreatedAt:   now,
		}
		if err := setJSON(txn, studentLBKeyPrefix+nu.ID, &student); err != nil {
			return err
		}

		sk := schoolKey(nu.SchoolName)
		var school SchoolEntry
		err = getJSON(txn, schoolLBKeyPrefix+sk, &school)
		if errors.Is(err, badger.ErrKeyNotFound) {
			school = SchoolEntry{ID: sk, Name: nu.SchoolName, Bottles: 0, CreatedAt: now}
			return setJSON(txn, schoolLBKeyPrefix+sk, &school)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetUser reads a user record.
func (s *Store) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	var rec UserRecord
	err := s.view("get_user", func(txn *badger.Txn) error {
		err := getJSON(txn, userKeyPrefix+userID, &rec)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateBestRank recomputes the user's current student-leaderboard rank and
// lowers BestRank if the new rank is an improvement. Rank is 1-based over
// bottles descending with the leaderboard's stable tie-break.
func (s *Store) UpdateBestRank(ctx context.Context, userID string) (int, error) {
	rank := 0
	err := s.update(ctx, "update_best_rank", func(txn *badger.Txn) error {
		entries, err := readStudentEntries(txn)
		if err != nil {
			return err
		}
		sortStudents(entries)

		rank = 0
		for i, e := range entries {
			if e.UserID == userID {
				rank = i + 1
				break
			}
		}
		if rank == 0 {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}

		var rec UserRecord
		if err := getJSON(txn, userKeyPrefix+userID, &rec); err != nil {
			return err
		}
		if rec.BestRank == nil || rank < *rec.BestRank {
			rec.BestRank = &rank
			return setJSON(txn, userKeyPrefix+userID, &rec)
		}
		return nil
	})
	return rank, err
}
