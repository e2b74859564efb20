// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package main

import (
	"testing"
	"time"

	"github.com/veridianlabs/riskpipe/internal/engine"
	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/normalize"
)

func fullEnsemble(score float64) []event.ModelScore {
	return []event.ModelScore{
		{Model: engine.ModelIsolationForest, Score: score, Confidence: 0.9},
		{Model: engine.ModelSequence, Score: score, Confidence: 0.9},
		{Model: engine.ModelGraph, Score: score, Confidence: 0.9},
		{Model: engine.ModelContext, Score: score, Confidence: 0.9},
	}
}

// A generic-source event carrying multiplier attributes must scale the risk
// score after normalization: the attributes ride SourceSpecific into the
// decision context.
func TestDecisionContextScalesGenericEventRisk(t *testing.T) {
	cfg := engine.DefaultConfig()
	eng, err := engine.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	contextFn := decisionContext(cfg.Multipliers)

	norm, err := normalize.New().Normalize(event.RawEvent{
		ID:          "evt-1",
		Source:      event.SourceGeneric,
		ArrivalTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: []byte(`{
			"entity_id": "svc-7",
			"event_type": "data_access",
			"resource_sensitivity": "CRITICAL"
		}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	d, err := eng.Score(norm.EntityID, contextFn(norm), fullEnsemble(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if d.RiskScore != 75 {
		t.Errorf("risk = %v, want 75 (base 50 scaled by 1.5)", d.RiskScore)
	}
	if d.Decision != event.DecisionChallenge {
		t.Errorf("decision = %q, want %q", d.Decision, event.DecisionChallenge)
	}

	// Without the attribute the base score stands.
	plain, err := normalize.New().Normalize(event.RawEvent{
		ID:          "evt-2",
		Source:      event.SourceGeneric,
		ArrivalTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:     []byte(`{"entity_id":"svc-7","event_type":"data_access"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	d, err = eng.Score(plain.EntityID, contextFn(plain), fullEnsemble(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if d.RiskScore != 50 {
		t.Errorf("risk = %v, want 50 without multiplier attributes", d.RiskScore)
	}
}
