// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

// Package metrics provides Prometheus instrumentation for Fontaine:
// session lifecycle, reconciliation, store contention, realtime fan-out,
// rollup forwarding, and API latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle
	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fontaine_sessions_opened_total",
			Help: "Total number of dispensing sessions opened",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fontaine_sessions_closed_total",
			Help: "Total number of dispensing sessions closed",
		},
		[]string{"trigger"}, // "terminal", "stop", "timeout"
	)

	SessionOpenRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fontaine_session_open_rejected_total",
			Help: "Total number of rejected session open attempts",
		},
		[]string{"reason"}, // "invalid_id", "already_active", "create_error"
	)

	FlowSnapshotsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fontaine_flow_snapshots_applied_total",
			Help: "Total number of flow snapshots applied to active sessions",
		},
	)

	FlowSnapshotsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fontaine_flow_snapshots_duplicate_total",
			Help: "Total number of duplicate or regressive flow snapshots skipped",
		},
	)

	// Reconciliation
	Reconciliations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fontaine_reconciliations_total",
			Help: "Total number of session reconciliations applied",
		},
	)

	ReconciliationsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fontaine_reconciliations_duplicate_total",
			Help: "Total number of reconciliations skipped by the idempotency guard",
		},
	)

	BottlesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fontaine_bottles_completed_total",
			Help: "Total number of bottle units completed across all users",
		},
	)

	LitersReconciled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fontaine_liters_reconciled_total",
			Help: "Total liters folded into user aggregates",
		},
	)

	PendingCloses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fontaine_pending_closes",
			Help: "Number of session closes awaiting successful reconciliation",
		},
	)

	// Store
	StoreTxnConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fontaine_store_txn_conflicts_total",
			Help: "Total number of badger transaction conflicts retried",
		},
	)

	StoreTxnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fontaine_store_txn_duration_seconds",
			Help:    "Duration of store transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Realtime
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fontaine_websocket_clients",
			Help: "Current number of connected websocket clients",
		},
	)

	BroadcastsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fontaine_broadcasts_dropped_total",
			Help: "Total number of broadcasts dropped due to a full channel",
		},
		[]string{"kind"},
	)

	// Flow-event pipeline
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fontaine_events_published_total",
			Help: "Total number of flow events published to the stream",
		},
		[]string{"kind"},
	)

	EventsPoisoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fontaine_events_poisoned_total",
			Help: "Total number of flow events routed to the poison queue",
		},
	)

	// Rollup forwarding
	RollupForwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fontaine_rollup_forwards_total",
			Help: "Total number of rollup delta forward attempts",
		},
		[]string{"result"}, // "ok", "error", "breaker_open"
	)

	// API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fontaine_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fontaine_api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)
)

// RecordAPIRequest records a completed API request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// ObserveStoreTxn records the duration of a store transaction.
func ObserveStoreTxn(operation string, start time.Time) {
	StoreTxnDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
