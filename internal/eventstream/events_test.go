// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package eventstream

import (
	"strings"
	"testing"

	"github.com/culture-thirst/fontaine/internal/fountain"
)

func testFlowKey() fountain.FlowKey {
	return fountain.FlowKey{Date: "2026-08-28", Department: "EPHEC0", Serial: "1M02"}
}

func TestNewFlowEvent(t *testing.T) {
	e := NewFlowEvent(KindFlowSnapshot, testFlowKey(), 0.128)

	if e.EventID == "" {
		t.Error("Event should get a generated id")
	}
	if e.SchemaVersion != SchemaVersion {
		t.Errorf("Got schema version %d, want %d", e.SchemaVersion, SchemaVersion)
	}
	if e.Key() != testFlowKey() {
		t.Errorf("Got key %v, want %v", e.Key(), testFlowKey())
	}
	if err := e.Validate(); err != nil {
		t.Errorf("Fresh event should validate: %v", err)
	}
}

func TestFlowEventTopic(t *testing.T) {
	snap := NewFlowEvent(KindFlowSnapshot, testFlowKey(), 0.5)
	term := NewFlowEvent(KindSessionTerminal, testFlowKey(), 0.5)

	if snap.Topic() != TopicSnapshot {
		t.Errorf("Got topic %q, want %q", snap.Topic(), TopicSnapshot)
	}
	if term.Topic() != TopicTerminal {
		t.Errorf("Got topic %q, want %q", term.Topic(), TopicTerminal)
	}
}

func TestFlowEventRoundTrip(t *testing.T) {
	e := NewFlowEvent(KindSessionTerminal, testFlowKey(), 1.75)

	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	got, err := UnmarshalFlowEvent(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.EventID != e.EventID || got.Kind != e.Kind || got.WaterLiters != e.WaterLiters {
		t.Errorf("Got %+v, want %+v", got, e)
	}
	if got.Key() != e.Key() {
		t.Errorf("Got key %v, want %v", got.Key(), e.Key())
	}
}

func TestUnmarshalFlowEventDefaultsSchemaVersion(t *testing.T) {
	raw := `{"eventId":"e1","kind":"flow_snapshot","date":"2026-08-28","department":"EPHEC0","serial":"1M02","waterLiters":0.5,"timestamp":"2026-08-28T10:00:00Z"}`
	got, err := UnmarshalFlowEvent([]byte(raw))
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.SchemaVersion != 1 {
		t.Errorf("Got schema version %d, want 1", got.SchemaVersion)
	}
}

func TestUnmarshalFlowEventRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", `{{`, "unmarshal"},
		{"missing id", `{"kind":"flow_snapshot","date":"d","department":"x","serial":"y"}`, "event id"},
		{"unknown kind", `{"eventId":"e1","kind":"bogus","date":"d","department":"x","serial":"y"}`, "unknown kind"},
		{"incomplete key", `{"eventId":"e1","kind":"flow_snapshot","date":"d","department":"x"}`, "incomplete key"},
		{"negative liters", `{"eventId":"e1","kind":"flow_snapshot","date":"d","department":"x","serial":"y","waterLiters":-1}`, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalFlowEvent([]byte(tt.raw))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Got error %q, want it to mention %q", err, tt.want)
			}
		})
	}
}
