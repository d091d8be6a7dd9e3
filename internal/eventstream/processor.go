// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package eventstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/culture-thirst/fontaine/internal/fountain"
	"github.com/culture-thirst/fontaine/internal/logging"
	"github.com/culture-thirst/fontaine/internal/metrics"
	"github.com/culture-thirst/fontaine/internal/realtime"
	"github.com/culture-thirst/fontaine/internal/store"
)

// RollupForwarder receives reconciled deltas for the external rollup
// endpoint. Enqueue never blocks the reconciliation path.
type RollupForwarder interface {
	Enqueue(key fountain.FlowKey, delta store.RollupDelta)
}

// Processor consumes flow events off the stream and drives the session
// pipeline: snapshots feed the tracker and the realtime fan-out, terminals
// run the full close sequence against the store.
type Processor struct {
	tracker   *fountain.Tracker
	store     *store.Store
	hub       *realtime.Hub
	forwarder RollupForwarder
}

// NewProcessor wires the pipeline stages together. forwarder may be nil
// when external rollup forwarding is disabled.
func NewProcessor(tracker *fountain.Tracker, st *store.Store, hub *realtime.Hub, forwarder RollupForwarder) *Processor {
	return &Processor{tracker: tracker, store: st, hub: hub, forwarder: forwarder}
}

// RegisterHandlers attaches the processor to the router's topics.
func (p *Processor) RegisterHandlers(r *Router, sub *Subscriber) {
	r.AddConsumerHandler("flow-snapshots", TopicSnapshot, sub.WatermillSubscriber(), p.HandleMessage)
	r.AddConsumerHandler("session-terminals", TopicTerminal, sub.WatermillSubscriber(), p.HandleMessage)
}

// HandleMessage decodes and dispatches one stream message. A decode
// failure is permanent: returning the error sends the message through the
// retry budget into the poison queue.
func (p *Processor) HandleMessage(msg *message.Message) error {
	event, err := UnmarshalFlowEvent(msg.Payload)
	if err != nil {
		return err
	}
	return p.Process(msg.Context(), event)
}

// Process applies one flow event.
func (p *Processor) Process(ctx context.Context, event *FlowEvent) error {
	switch event.Kind {
	case KindFlowSnapshot:
		p.processSnapshot(event)
		return nil
	case KindSessionTerminal:
		return p.processTerminal(ctx, event)
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

// processSnapshot feeds the cumulative value to every watching session and
// mirrors it to connected clients. Duplicate or out-of-order snapshots
// change nothing in the tracker; the broadcast still happens so kiosks
// render the live counter even with no session open.
func (p *Processor) processSnapshot(event *FlowEvent) {
	updated := p.tracker.ApplyFlow(event.Key(), event.WaterLiters)
	if len(updated) > 0 {
		metrics.FlowSnapshotsApplied.Inc()
	} else {
		metrics.FlowSnapshotsDuplicate.Inc()
	}
	p.hub.BroadcastFlow(event.WaterLiters)
}

// processTerminal runs the close sequence for every session watching the
// key. Each step is idempotent, so a redelivered terminal or a crash
// between steps replays safely: BeginCloseByKey no-ops on sessions already
// pending, ApplySession is guarded by the session-id marker, and the
// pending intent stays durable until the apply commits.
func (p *Processor) processTerminal(ctx context.Context, event *FlowEvent) error {
	pendings := p.tracker.BeginCloseByKey(event.Key(), event.WaterLiters, "terminal")
	if len(pendings) == 0 {
		logging.Debug().
			Str("key", event.Key().String()).
			Float64("liters", event.WaterLiters).
			Msg("Terminal event with no watching session")
		p.hub.BroadcastStopFill()
		return nil
	}

	for _, pending := range pendings {
		if err := p.ClosePending(ctx, pending); err != nil {
			return err
		}
	}

	p.hub.BroadcastStopFill()
	return nil
}

// ClosePending drives one captured close intent to completion: persist the
// intent, apply the delta, close the session record, notify clients, and
// hand the delta to the rollup forwarder. Safe to call again for the same
// intent after any partial failure.
func (p *Processor) ClosePending(ctx context.Context, pending *fountain.PendingClose) error {
	if err := p.store.EnqueuePendingClose(ctx, pending); err != nil {
		return fmt.Errorf("enqueue pending close %s: %w", pending.SessionID, err)
	}
	metrics.PendingCloses.Inc()
	defer metrics.PendingCloses.Dec()

	res, err := p.store.ApplySession(ctx, pending)
	if err != nil {
		return err
	}

	err = p.tracker.CompleteClose(ctx, pending.SessionID)
	if isSessionGone(err) {
		// Restart path: the tracker lost its in-memory view, so the record
		// is closed directly. A record already gone needs nothing more.
		cerr := p.store.CloseSession(ctx, pending.SessionID, pending.FinalLiters)
		if cerr != nil && !errors.Is(cerr, store.ErrSessionNotFound) {
			return cerr
		}
	} else if err != nil {
		return err
	}
	metrics.SessionsClosed.WithLabelValues(pending.Trigger).Inc()

	if res.Department != nil {
		p.hub.BroadcastDeptUpdate(res.Department.WaterLiters, res.Department.PlasticRecycledGrams)
	}
	p.hub.BroadcastUpdateDone()

	if !res.Duplicate && res.Delta.BottlesCompleted > 0 {
		// Rank movement only happens when the bottle count moved. A
		// failure here never blocks the close; the next one catches up.
		if _, err := p.store.UpdateBestRank(ctx, pending.UserID); err != nil {
			logging.Warn().Err(err).Str("user_id", pending.UserID).Msg("Best rank update failed")
		}
	}

	if p.forwarder != nil && !res.Duplicate {
		p.forwarder.Enqueue(pending.Key, store.RollupDelta{
			WaterLiters:          res.Delta.LitersAdded,
			PlasticRecycledGrams: res.Delta.PlasticGrams,
		})
	}
	return nil
}

// ReplayPending re-drives every durable close intent left over from a
// previous run. Called once at startup before the router starts.
func (p *Processor) ReplayPending(ctx context.Context) error {
	pendings, err := p.store.ListPendingCloses()
	if err != nil {
		return fmt.Errorf("list pending closes: %w", err)
	}
	for _, pending := range pendings {
		if err := p.ClosePending(ctx, pending); err != nil {
			return fmt.Errorf("replay pending close %s: %w", pending.SessionID, err)
		}
		logging.Info().
			Str("session_id", pending.SessionID).
			Float64("liters", pending.FinalLiters).
			Msg("Replayed pending close")
	}
	return nil
}

func isSessionGone(err error) bool {
	return errors.Is(err, fountain.ErrSessionNotFound) || errors.Is(err, fountain.ErrSessionClosed)
}
