// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

// Package fountain contains the domain core of the dispensing pipeline:
// fountain identifiers, the session state machine (Tracker), and the
// reconciliation algorithm that converts a closed session's liters into
// bottle units, plastic grams, and poem unlocks.
//
// The package is transport- and storage-agnostic. The Tracker persists
// through a narrow SessionStore interface; Reconcile is a pure function so
// the store can run it inside an atomic read-modify-write transaction.
package fountain
