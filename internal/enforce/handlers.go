// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package enforce

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/logging"
)

// LogHandler records the decision in the audit log and does nothing else.
// It is the stock handler for ALLOW.
type LogHandler struct{}

func (LogHandler) Enforce(_ context.Context, d *event.RiskDecision) error {
	logging.Info().
		Str("entity_id", d.EntityID).
		Str("decision", string(d.Decision)).
		Float64("risk_score", d.RiskScore).
		Float64("confidence", d.Confidence).
		Bool("low_confidence", d.LowConfidence).
		Msg("Decision recorded")
	return nil
}

// PublishHandler forwards the decision to a message topic for an external
// enforcement orchestrator. The stock wiring uses it for ALERT (notify),
// CHALLENGE (step-up and session suspend), and BLOCK (terminate and incident
// log), each on its own topic.
type PublishHandler struct {
	publisher message.Publisher
	topic     string
}

// NewPublishHandler returns a handler publishing decisions to topic.
func NewPublishHandler(publisher message.Publisher, topic string) *PublishHandler {
	return &PublishHandler{publisher: publisher, topic: topic}
}

func (h *PublishHandler) Enforce(_ context.Context, d *event.RiskDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("entity_id", d.EntityID)
	msg.Metadata.Set("decision", string(d.Decision))

	if err := h.publisher.Publish(h.topic, msg); err != nil {
		return fmt.Errorf("publish decision to %s: %w", h.topic, err)
	}
	return nil
}

// DefaultHandlers wires the stock per-label handler table: ALLOW logs only,
// the actionable labels publish to their own topics.
func DefaultHandlers(publisher message.Publisher, topicPrefix string) map[event.Decision]Handler {
	return map[event.Decision]Handler{
		event.DecisionAllow:     LogHandler{},
		event.DecisionAlert:     NewPublishHandler(publisher, topicPrefix+".alert"),
		event.DecisionChallenge: NewPublishHandler(publisher, topicPrefix+".challenge"),
		event.DecisionBlock:     NewPublishHandler(publisher, topicPrefix+".block"),
	}
}
