// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package fountain

import "time"

// State is a session's position in the dispensing lifecycle.
type State string

const (
	StateNone         State = "none"
	StateScanning     State = "scanning"
	StateActive       State = "active"
	StatePendingClose State = "pending_close"
	StateClosed       State = "closed"
)

// Session represents one open-to-close dispensing interaction between a
// user and a fountain. Records are append-only history: a session is never
// deleted, and becomes immutable once IsActive transitions to false.
type Session struct {
	ID             string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	Fountain       ID        `json:"fountainId"`
	StartTime      time.Time `json:"startTime"`
	IsActive       bool      `json:"isActive"`
	WaterDispensed float64   `json:"waterDispensed"`
}

// Key returns the flow read-model path this session watches while active.
func (s *Session) Key() FlowKey {
	return FlowKey{
		Date:       s.StartTime.UTC().Format("2006-01-02"),
		Department: s.Fountain.Department,
		Serial:     s.Fountain.Serial,
	}
}
