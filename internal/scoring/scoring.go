// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package scoring connects the pipeline to the external feature aggregator
// and model ensemble services over NATS request/reply. When no broker is
// configured, the local implementations in local.go stand in so the
// pipeline stays runnable end to end in development.
package scoring

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/veridianlabs/riskpipe/internal/event"
)

// AggregatorClient requests feature vectors from the feature-aggregation
// service.
type AggregatorClient struct {
	conn    *natsgo.Conn
	subject string
}

// NewAggregatorClient returns a client requesting on subject.
func NewAggregatorClient(conn *natsgo.Conn, subject string) *AggregatorClient {
	return &AggregatorClient{conn: conn, subject: subject}
}

// Aggregate sends the normalized event and decodes the returned vector.
// The context bounds the round trip.
func (c *AggregatorClient) Aggregate(ctx context.Context, ev *event.NormalizedEvent) (*event.FeatureVector, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized event: %w", err)
	}
	msg, err := c.conn.RequestWithContext(ctx, c.subject, payload)
	if err != nil {
		return nil, fmt.Errorf("request features: %w", err)
	}
	var fv event.FeatureVector
	if err := json.Unmarshal(msg.Data, &fv); err != nil {
		return nil, fmt.Errorf("decode feature vector: %w", err)
	}
	return &fv, nil
}

// EnricherClient calls the enrichment service, which annotates normalized
// events with derived context before scoring. The reply replaces the event
// in place.
type EnricherClient struct {
	conn    *natsgo.Conn
	subject string
}

// NewEnricherClient returns a client requesting on subject.
func NewEnricherClient(conn *natsgo.Conn, subject string) *EnricherClient {
	return &EnricherClient{conn: conn, subject: subject}
}

// Enrich sends the event and overwrites it with the enriched reply.
func (c *EnricherClient) Enrich(ctx context.Context, ev *event.NormalizedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal normalized event: %w", err)
	}
	msg, err := c.conn.RequestWithContext(ctx, c.subject, payload)
	if err != nil {
		return fmt.Errorf("request enrichment: %w", err)
	}
	var enriched event.NormalizedEvent
	if err := json.Unmarshal(msg.Data, &enriched); err != nil {
		return fmt.Errorf("decode enriched event: %w", err)
	}
	*ev = enriched
	return nil
}

// ensembleReply is the scoring service's response shape.
type ensembleReply struct {
	Scores []event.ModelScore `json:"scores"`
}

// EnsembleClient requests anomaly scores from the model ensemble service.
type EnsembleClient struct {
	conn    *natsgo.Conn
	subject string
}

// NewEnsembleClient returns a client requesting on subject.
func NewEnsembleClient(conn *natsgo.Conn, subject string) *EnsembleClient {
	return &EnsembleClient{conn: conn, subject: subject}
}

// Score sends the feature vector and returns whatever subset of members
// answered. An empty reply is an error; a partial one is the caller's
// degraded path.
func (c *EnsembleClient) Score(ctx context.Context, fv *event.FeatureVector) ([]event.ModelScore, error) {
	payload, err := json.Marshal(fv)
	if err != nil {
		return nil, fmt.Errorf("marshal feature vector: %w", err)
	}
	msg, err := c.conn.RequestWithContext(ctx, c.subject, payload)
	if err != nil {
		return nil, fmt.Errorf("request scores: %w", err)
	}
	var reply ensembleReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode ensemble reply: %w", err)
	}
	if len(reply.Scores) == 0 {
		return nil, fmt.Errorf("ensemble returned no scores for entity %s", fv.EntityID)
	}
	return reply.Scores, nil
}
