// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package store

import (
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// StudentEntry is one row of the student leaderboard. Bottles mirrors the
// user record's BottlesRecycled and is updated in the same transaction.
type StudentEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	SchoolName  string `json:"schoolName"`
	Bottles     int    `json:"bottles"`
	CreatedAt   int64  `json:"createdAt"`
}

// SchoolEntry is one row of the school leaderboard, accumulated across all
// students of the same school.
type SchoolEntry struct {
	ID        string `json:"schoolId"`
	Name      string `json:"schoolName"`
	Bottles   int    `json:"bottles"`
	CreatedAt int64  `json:"createdAt"`
}

// LeaderboardKind selects which board to read.
type LeaderboardKind string

const (
	LeaderboardStudents LeaderboardKind = "students"
	LeaderboardSchools  LeaderboardKind = "schools"
)

// Leaderboard is a snapshot of one board, already sorted.
type Leaderboard struct {
	Kind     LeaderboardKind `json:"kind"`
	Students []StudentEntry  `json:"students,omitempty"`
	Schools  []SchoolEntry   `json:"schools,omitempty"`
}

func sortStudents(entries []StudentEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Bottles != entries[j].Bottles {
			return entries[i].Bottles > entries[j].Bottles
		}
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].UserID < entries[j].UserID
	})
}

func sortSchools(entries []SchoolEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Bottles != entries[j].Bottles {
			return entries[i].Bottles > entries[j].Bottles
		}
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].ID < entries[j].ID
	})
}

func readStudentEntries(txn *badger.Txn) ([]StudentEntry, error) {
	return scanJSON[StudentEntry](txn, studentLBKeyPrefix)
}

func readSchoolEntries(txn *badger.Txn) ([]SchoolEntry, error) {
	return scanJSON[SchoolEntry](txn, schoolLBKeyPrefix)
}

func scanJSON[T any](txn *badger.Txn, prefix string) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []T
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetLeaderboard reads one board sorted by bottles descending, ties broken
// by earliest registration.
func (s *Store) GetLeaderboard(kind LeaderboardKind) (*Leaderboard, error) {
	lb := &Leaderboard{Kind: kind}
	err := s.view("get_leaderboard", func(txn *badger.Txn) error {
		switch kind {
		case LeaderboardStudents:
			entries, err := readStudentEntries(txn)
			if err != nil {
				return err
			}
			sortStudents(entries)
			lb.Students = entries
			return nil
		case LeaderboardSchools:
			entries, err := readSchoolEntries(txn)
			if err != nil {
				return err
			}
			sortSchools(entries)
			lb.Schools = entries
			return nil
		default:
			return fmt.Errorf("unknown leaderboard kind %q", kind)
		}
	})
	if err != nil {
		return nil, err
	}
	return lb, nil
}
