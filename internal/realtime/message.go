// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

// Package realtime is the websocket fan-out channel between the server and
// the kiosk/viewer clients. Typed messages travel through the hub; the
// legacy colon-delimited wire form exists only at the codec boundary.
package realtime

// Kind identifies a realtime message.
type Kind string

const (
	// KindStartFill signals the dispense button was pressed.
	KindStartFill Kind = "start_fill"

	// KindStopFill signals the dispense button was released.
	KindStopFill Kind = "stop_fill"

	// KindUpdateDone confirms a close's aggregates were persisted.
	KindUpdateDone Kind = "update_done"

	// KindInit carries the full current counters, sent on (re)connect so a
	// client that missed events resynchronizes from the snapshot.
	KindInit Kind = "init"

	// KindDeptUpdate carries refreshed department totals.
	KindDeptUpdate Kind = "dept_update"

	// KindFlow carries the machine's cumulative dispensed liters for the
	// current fill.
	KindFlow Kind = "flow"
)

// InitSnapshot is the KindInit payload.
type InitSnapshot struct {
	MachineWater   float64 `json:"machineWater"`
	MachinePlastic int     `json:"machinePlastic"`
	DeptWater      float64 `json:"deptWater"`
	DeptPlastic    int     `json:"deptPlastic"`
	IsPressed      bool    `json:"isPressed"`
}

// DeptUpdate is the KindDeptUpdate payload.
type DeptUpdate struct {
	Water   float64 `json:"water"`
	Plastic int     `json:"plastic"`
}

// Message is one realtime event. Exactly the payload matching Kind is set.
type Message struct {
	Kind Kind          `json:"kind"`
	Init *InitSnapshot `json:"init,omitempty"`
	Dept *DeptUpdate   `json:"dept,omitempty"`
	Flow float64       `json:"flow,omitempty"`
}
