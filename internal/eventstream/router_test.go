// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package eventstream

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
)

type capturingPublisher struct {
	messages []*message.Message
}

func (p *capturingPublisher) Publish(_ string, msgs ...*message.Message) error {
	p.messages = append(p.messages, msgs...)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func TestPoisonPublishRewritesDedupID(t *testing.T) {
	inner := &capturingPublisher{}
	pub := &poisonCountingPublisher{inner: inner}

	// A consumed message carries the dedup id of its original publish;
	// the poison copy enters the same stream and must not collide with
	// it inside the duplicate window.
	msg := message.NewMessage("m1", []byte("{}"))
	msg.Metadata.Set(natsgo.MsgIdHdr, "m1")
	if err := pub.Publish("flow.poison", msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(inner.messages) != 1 {
		t.Fatalf("Got %d published messages, want 1", len(inner.messages))
	}
	got := inner.messages[0].Metadata.Get(natsgo.MsgIdHdr)
	if got == "m1" {
		t.Fatal("Poison copy reused the original dedup id")
	}
	if got != "poison.m1" {
		t.Errorf("Got dedup id %q, want poison.m1", got)
	}
}

func TestPoisonPublishLeavesMissingIDAlone(t *testing.T) {
	inner := &capturingPublisher{}
	pub := &poisonCountingPublisher{inner: inner}

	msg := message.NewMessage("m2", []byte("{}"))
	if err := pub.Publish("flow.poison", msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if got := inner.messages[0].Metadata.Get(natsgo.MsgIdHdr); got != "" {
		t.Errorf("Got dedup id %q for an id-less message, want none", got)
	}
}
