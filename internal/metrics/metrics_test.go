// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.CollectAndCount(APIRequestDuration)
	RecordAPIRequest("GET", "/api/v1/leaderboard/students", "200", 25*time.Millisecond)
	after := testutil.CollectAndCount(APIRequestDuration)
	if after <= before {
		t.Errorf("expected new series after recording, before=%d after=%d", before, after)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	base := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != base+1 {
		t.Errorf("expected gauge %v, got %v", base+1, got)
	}
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != base {
		t.Errorf("expected gauge %v, got %v", base, got)
	}
}

func TestSessionCounters(t *testing.T) {
	before := testutil.ToFloat64(SessionsOpened)
	SessionsOpened.Inc()
	if got := testutil.ToFloat64(SessionsOpened); got != before+1 {
		t.Errorf("expected counter %v, got %v", before+1, got)
	}
}
