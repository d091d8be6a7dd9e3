// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package fountain

import (
	"fmt"
	"math"
)

const (
	// BottleLiters is the bottle unit used to gamify consumption.
	BottleLiters = 1.0

	// PlasticGramsPerBottle is the plastic saved per completed bottle.
	// Fixed across all fountains in the current deployment.
	PlasticGramsPerBottle = 42
)

// UserState is the consumption aspect of a user account.
// PartialLiters always lies in [0, 1) after reconciliation.
type UserState struct {
	BottlesRecycled int      `json:"bottlesRecycled"`
	PartialLiters   float64  `json:"partialLiters"`
	UnlockedPoems   []string `json:"unlockedPoems"`
}

// Delta is the exact increment a reconciled session contributes to every
// downstream aggregate. It is applied at most once per session.
type Delta struct {
	BottlesCompleted int      `json:"bottlesCompleted"`
	PlasticGrams     int      `json:"plasticGrams"`
	LitersAdded      float64  `json:"litersAdded"`
	PoemsUnlocked    []string `json:"poemsUnlocked"`
}

// PoemID derives the identifier of the poem unlocked by the bottle at the
// given lifetime index. One poem per completed bottle, append-only.
func PoemID(index int) string {
	return fmt.Sprintf("poem%d", index)
}

// Reconcile folds a closed session's final liters into the user's
// cumulative state and returns the delta to apply downstream.
//
// sessionLiters is this session's own contribution, not a machine-lifetime
// total. The algorithm:
//
//	total   = partial + sessionLiters
//	bottles = floor(total)
//	partial = total - bottles, clamped to [0, 1) against float drift
//
// One poem is unlocked per completed bottle, with ids derived from the
// user's bottle count before this session.
//
// Reconcile is pure: callers provide a freshly read state and persist the
// result atomically, so retries with the same inputs are safe.
func Reconcile(state UserState, sessionLiters float64) (UserState, Delta, error) {
	if sessionLiters < 0 {
		return state, Delta{}, fmt.Errorf("%w: %v", ErrNegativeLiters, sessionLiters)
	}

	total := state.PartialLiters + sessionLiters
	bottles := int(math.Floor(total / BottleLiters))
	partial := total - float64(bottles)*BottleLiters

	// Guard against floating-point drift pushing the remainder out of range.
	if partial < 0 {
		partial = 0
	}
	if partial >= BottleLiters {
		bottles++
		partial = 0
	}

	// Copy the poem list so the input state is never aliased.
	poems := make([]string, len(state.UnlockedPoems), len(state.UnlockedPoems)+bottles)
	copy(poems, state.UnlockedPoems)

	next := UserState{
		BottlesRecycled: state.BottlesRecycled + bottles,
		PartialLiters:   partial,
		UnlockedPoems:   poems,
	}

	delta := Delta{
		BottlesCompleted: bottles,
		PlasticGrams:     bottles * PlasticGramsPerBottle,
		LitersAdded:      sessionLiters,
	}

	for i := 0; i < bottles; i++ {
		poem := PoemID(state.BottlesRecycled + i)
		next.UnlockedPoems = append(next.UnlockedPoems, poem)
		delta.PoemsUnlocked = append(delta.PoemsUnlocked, poem)
	}

	return next, delta, nil
}
