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
)

// Poem is a reward unlocked by completing a bottle.
type Poem struct {
	ID        string `json:"poemId"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	FirstLine string `json:"firstLine"`
	Body      string `json:"body"`
}

// PutPoem writes a poem into the reward catalog.
func (s *Store) PutPoem(ctx context.Context, p *Poem) error {
	return s.update(ctx, "put_poem", func(txn *badger.Txn) error {
		return setJSON(txn, poemKeyPrefix+p.ID, p)
	})
}

// GetPoem reads one poem by id.
func (s *Store) GetPoem(poemID string) (*Poem, error) {
	var p Poem
	err := s.view("get_poem", func(txn *badger.Txn) error {
		err := getJSON(txn, poemKeyPrefix+poemID, &p)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrPoemNotFound, poemID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListUnlockedPoems resolves a user's unlocked poem ids against the
// catalog. Ids without a catalog entry are skipped; the catalog may trail
// the unlock counter when new poems have not shipped yet.
func (s *Store) ListUnlockedPoems(ctx context.Context, userID string) ([]*Poem, error) {
	rec, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	poems := make([]*Poem, 0, len(rec.UnlockedPoems))
	err = s.view("list_unlocked_poems", func(txn *badger.Txn) error {
		for _, id := range rec.UnlockedPoems {
			var p Poem
			if err := getJSON(txn, poemKeyPrefix+id, &p); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			poems = append(poems, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return poems, nil
}
