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

// Rollup is an additive daily aggregate at machine or department grain.
// LastTransaction carries the most recent delta folded in, which is what
// the legacy forwarding convention publishes downstream.
type Rollup struct {
	WaterLiters          float64      `json:"waterLiters"`
	PlasticRecycledGrams int          `json:"plasticRecycledGrams"`
	LastTransaction      *RollupDelta `json:"lastTransaction,omitempty"`
}

// RollupDelta is one session's contribution to a rollup.
type RollupDelta struct {
	WaterLiters          float64 `json:"waterLiters"`
	PlasticRecycledGrams int     `json:"plasticRecycledGrams"`
}

func machineKey(k fountain.FlowKey) string {
	return machineKeyPrefix + k.Date + ":" + k.Department + ":" + k.Serial
}

func deptKey(date, department string) string {
	return deptKeyPrefix + date + ":" + department
}

// applyRollupDelta folds one delta into both the machine and department
// rollups for the key's date, inside the caller's transaction.
func applyRollupDelta(txn *badger.Txn, key fountain.FlowKey, delta RollupDelta) error {
	for _, k := range []string{machineKey(key), deptKey(key.Date, key.Department)} {
		var r Rollup
		err := getJSON(txn, k, &r)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		r.WaterLiters += delta.WaterLiters
		r.PlasticRecycledGrams += delta.PlasticRecycledGrams
		d := delta
		r.LastTransaction = &d
		if err := setJSON(txn, k, &r); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRollupDelta folds one delta into the machine and department rollups
// in a single transaction. Reconciliation goes through ApplySession instead;
// this is the entry point for replayed or externally sourced deltas.
func (s *Store) ApplyRollupDelta(ctx context.Context, key fountain.FlowKey, delta RollupDelta) error {
	return s.update(ctx, "apply_rollup", func(txn *badger.Txn) error {
		return applyRollupDelta(txn, key, delta)
	})
}

// GetMachineRollup reads the daily aggregate for one machine. A day with
// no sessions reads as the zero rollup.
func (s *Store) GetMachineRollup(key fountain.FlowKey) (*Rollup, error) {
	var r Rollup
	err := s.view("get_machine_rollup", func(txn *badger.Txn) error {
		err := getJSON(txn, machineKey(key), &r)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("machine rollup %s: %w", key, err)
	}
	return &r, nil
}

// GetDepartmentRollup reads the daily aggregate for one department.
func (s *Store) GetDepartmentRollup(date, department string) (*Rollup, error) {
	var r Rollup
	err := s.view("get_dept_rollup", func(txn *badger.Txn) error {
		err := getJSON(txn, deptKey(date, department), &r)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("department rollup %s/%s: %w", date, department, err)
	}
	return &r, nil
}
