// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

// Package eventstream moves sensor events from the ingest edge to the
// session tracker over embedded NATS JetStream, with retry, deduplication
// and a poison queue via Watermill middleware.
package eventstream

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/culture-thirst/fontaine/internal/fountain"
)

// SchemaVersion is the current event schema version.
// Increment on breaking changes to FlowEvent.
const SchemaVersion = 1

// Event kinds.
const (
	// KindFlowSnapshot carries the cumulative liters of an in-progress fill.
	KindFlowSnapshot = "flow_snapshot"

	// KindSessionTerminal marks the end of a fill: the final total that
	// closes every session watching the key.
	KindSessionTerminal = "session_terminal"
)

// NATS subjects. The stream binds flow.>, so both kinds land in it, and
// so do poison-queue copies on flow.poison. Those copies get a rewritten
// dedup id so the duplicate window cannot swallow them.
const (
	TopicSnapshot = "flow.snapshot"
	TopicTerminal = "flow.terminal"
)

// FlowEvent is the canonical sensor event. Snapshots are cumulative values
// for the current fill, never deltas, so duplicate delivery is harmless.
type FlowEvent struct {
	SchemaVersion int    `json:"schemaVersion,omitempty"`
	EventID       string `json:"eventId"`
	Kind          string `json:"kind"`

	// Flow read-model key.
	Date       string `json:"date"` // YYYY-MM-DD
	Department string `json:"department"`
	Serial     string `json:"serial"`

	// WaterLiters is cumulative for the current fill.
	WaterLiters float64 `json:"waterLiters"`

	Timestamp time.Time `json:"timestamp"`
}

// NewFlowEvent creates an event with a fresh id, timestamp and schema
// version for the given key.
func NewFlowEvent(kind string, key fountain.FlowKey, liters float64) *FlowEvent {
	return &FlowEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Kind:          kind,
		Date:          key.Date,
		Department:    key.Department,
		Serial:        key.Serial,
		WaterLiters:   liters,
		Timestamp:     time.Now().UTC(),
	}
}

// Key reassembles the flow read-model key.
func (e *FlowEvent) Key() fountain.FlowKey {
	return fountain.FlowKey{Date: e.Date, Department: e.Department, Serial: e.Serial}
}

// Topic returns the NATS subject for this event's kind.
func (e *FlowEvent) Topic() string {
	if e.Kind == KindSessionTerminal {
		return TopicTerminal
	}
	return TopicSnapshot
}

// Validate checks required fields.
func (e *FlowEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("flow event: event id required")
	}
	switch e.Kind {
	case KindFlowSnapshot, KindSessionTerminal:
	default:
		return fmt.Errorf("flow event: unknown kind %q", e.Kind)
	}
	if e.Date == "" || e.Department == "" || e.Serial == "" {
		return fmt.Errorf("flow event: incomplete key %s/%s/%s", e.Date, e.Department, e.Serial)
	}
	if e.WaterLiters < 0 {
		return fmt.Errorf("flow event: negative liters %v", e.WaterLiters)
	}
	return nil
}

// Marshal serializes the event for the wire.
func (e *FlowEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalFlowEvent parses a wire payload, defaulting the schema version
// for events published before versioning existed.
func UnmarshalFlowEvent(data []byte) (*FlowEvent, error) {
	var e FlowEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal flow event: %w", err)
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = 1
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
