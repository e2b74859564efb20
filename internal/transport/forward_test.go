// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
)

func TestEventPublisherForward(t *testing.T) {
	pubsub := NewInProcessPubSub()
	defer pubsub.Close()

	msgs, err := pubsub.Subscribe(context.Background(), "normalized")
	if err != nil {
		t.Fatal(err)
	}

	fwd := NewEventPublisher(pubsub, "normalized")
	ev := &event.NormalizedEvent{
		EntityID:     "alice",
		EntityType:   event.EntityUser,
		EventType:    event.EventAuthentication,
		SourceSystem: event.SourceAzureAD,
	}
	if err := fwd.Forward(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-msgs:
		msg.Ack()
		if msg.Metadata.Get("entity_id") != "alice" || msg.Metadata.Get("source") != "azure_ad" {
			t.Errorf("metadata = %v", msg.Metadata)
		}
		var got event.NormalizedEvent
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatal(err)
		}
		if got.EntityID != "alice" {
			t.Errorf("payload entity = %q", got.EntityID)
		}
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}

type forwarderFunc func(ctx context.Context, ev *event.NormalizedEvent) error

func (f forwarderFunc) Forward(ctx context.Context, ev *event.NormalizedEvent) error {
	return f(ctx, ev)
}

func TestFanoutStopsAtFirstFailure(t *testing.T) {
	var first, second int
	fail := errors.New("downstream full")

	fanout := Fanout{
		forwarderFunc(func(context.Context, *event.NormalizedEvent) error { first++; return fail }),
		forwarderFunc(func(context.Context, *event.NormalizedEvent) error { second++; return nil }),
	}

	if err := fanout.Forward(context.Background(), &event.NormalizedEvent{}); !errors.Is(err, fail) {
		t.Fatalf("err = %v, want downstream failure", err)
	}
	if first != 1 || second != 0 {
		t.Errorf("calls = %d/%d, want fanout to stop at the failure", first, second)
	}
}

func TestFanoutForwardsToAll(t *testing.T) {
	var first, second int
	fanout := Fanout{
		forwarderFunc(func(context.Context, *event.NormalizedEvent) error { first++; return nil }),
		forwarderFunc(func(context.Context, *event.NormalizedEvent) error { second++; return nil }),
	}
	if err := fanout.Forward(context.Background(), &event.NormalizedEvent{}); err != nil {
		t.Fatal(err)
	}
	if first != 1 || second != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first, second)
	}
}
