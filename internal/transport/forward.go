// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
)

// EventPublisher publishes normalized events to a topic for external
// consumers of the feature-aggregation stream. It satisfies the stream
// processor's Forwarder interface.
type EventPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewEventPublisher returns a forwarder publishing to topic.
func NewEventPublisher(publisher message.Publisher, topic string) *EventPublisher {
	return &EventPublisher{publisher: publisher, topic: topic}
}

// Forward publishes the normalized event.
func (p *EventPublisher) Forward(_ context.Context, ev *event.NormalizedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal normalized event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("entity_id", ev.EntityID)
	msg.Metadata.Set("source", string(ev.SourceSystem))
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish normalized event to %s: %w", p.topic, err)
	}
	return nil
}

// Forwarder is the stream processor's forwarding contract, restated here so
// Fanout does not depend on the processor package.
type Forwarder interface {
	Forward(ctx context.Context, ev *event.NormalizedEvent) error
}

// Fanout forwards to every target in order, stopping at the first failure
// so the caller's retry covers the whole chain.
type Fanout []Forwarder

func (f Fanout) Forward(ctx context.Context, ev *event.NormalizedEvent) error {
	for _, target := range f {
		if err := target.Forward(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
