// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/veridianlabs/riskpipe/internal/enforce"
	"github.com/veridianlabs/riskpipe/internal/engine"
	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/explain"
)

type stubAggregator struct {
	fv  *event.FeatureVector
	err error
}

func (s *stubAggregator) Aggregate(ctx context.Context, ev *event.NormalizedEvent) (*event.FeatureVector, error) {
	return s.fv, s.err
}

type stubEnsemble struct {
	scores []event.ModelScore
	err    error
}

func (s *stubEnsemble) Score(ctx context.Context, fv *event.FeatureVector) ([]event.ModelScore, error) {
	return s.scores, s.err
}

// captureHandler records dispatched decisions.
type captureHandler struct {
	mu        sync.Mutex
	decisions []*event.RiskDecision
}

func (h *captureHandler) Enforce(ctx context.Context, d *event.RiskDecision) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decisions = append(h.decisions, d)
	return nil
}

func (h *captureHandler) all() []*event.RiskDecision {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*event.RiskDecision(nil), h.decisions...)
}

func newStage(t *testing.T, agg FeatureAggregator, ens ModelEnsemble, ctxFn ContextFunc) (*Stage, *captureHandler) {
	t.Helper()
	eng, err := engine.New(engine.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	handler := &captureHandler{}
	dispatcher := enforce.NewDispatcher(enforce.DefaultConfig(), map[event.Decision]enforce.Handler{
		event.DecisionAllow:     handler,
		event.DecisionAlert:     handler,
		event.DecisionChallenge: handler,
		event.DecisionBlock:     handler,
	})
	explainer := explain.New(engine.DefaultConfig().Weights, 0)
	stage, err := New(time.Second, agg, ens, eng, explainer, dispatcher, ctxFn)
	if err != nil {
		t.Fatal(err)
	}
	return stage, handler
}

func fullScores(score float64) []event.ModelScore {
	return []event.ModelScore{
		{Model: engine.ModelIsolationForest, Score: score},
		{Model: engine.ModelSequence, Score: score},
		{Model: engine.ModelGraph, Score: score},
		{Model: engine.ModelContext, Score: score},
	}
}

func normEvent() *event.NormalizedEvent {
	return &event.NormalizedEvent{EntityID: "alice", EntityType: event.EntityUser}
}

func TestForwardDispatchesDecisionOnce(t *testing.T) {
	agg := &stubAggregator{fv: &event.FeatureVector{EntityID: "alice"}}
	ens := &stubEnsemble{scores: fullScores(0.1)}
	stage, handler := newStage(t, agg, ens, nil)

	if err := stage.Forward(context.Background(), normEvent()); err != nil {
		t.Fatal(err)
	}

	decisions := handler.all()
	if len(decisions) != 1 {
		t.Fatalf("dispatched %d decisions, want 1", len(decisions))
	}
	d := decisions[0]
	if d.Decision != event.DecisionAllow {
		t.Errorf("decision = %v, want ALLOW for low risk", d.Decision)
	}
	if len(d.Factors) == 0 || len(d.Factors) > explain.DefaultTopK {
		t.Errorf("got %d factors, want 1..%d", len(d.Factors), explain.DefaultTopK)
	}
}

func TestForwardProceedsDegradedOnPartialEnsemble(t *testing.T) {
	agg := &stubAggregator{fv: &event.FeatureVector{EntityID: "alice"}}
	ens := &stubEnsemble{
		scores: []event.ModelScore{
			{Model: engine.ModelIsolationForest, Score: 0.9},
			{Model: engine.ModelSequence, Score: 0.9},
		},
		err: errors.New("graph model timed out"),
	}
	stage, handler := newStage(t, agg, ens, nil)

	if err := stage.Forward(context.Background(), normEvent()); err != nil {
		t.Fatal(err)
	}

	decisions := handler.all()
	if len(decisions) != 1 {
		t.Fatalf("dispatched %d decisions, want 1", len(decisions))
	}
	if !decisions[0].Degraded {
		t.Error("decision from a partial ensemble must be flagged degraded")
	}
}

func TestForwardAppliesContext(t *testing.T) {
	agg := &stubAggregator{fv: &event.FeatureVector{EntityID: "alice"}}
	ens := &stubEnsemble{scores: fullScores(0.5)}
	stage, handler := newStage(t, agg, ens, func(ev *event.NormalizedEvent) engine.Context {
		return engine.Context{"resource_sensitivity": "CRITICAL"}
	})

	if err := stage.Forward(context.Background(), normEvent()); err != nil {
		t.Fatal(err)
	}
	if d := handler.all()[0]; d.RiskScore != 75 {
		t.Errorf("risk = %v, want 75 after the critical-resource multiplier", d.RiskScore)
	}
}

func TestForwardReturnsCollaboratorErrors(t *testing.T) {
	tests := []struct {
		name string
		agg  FeatureAggregator
		ens  ModelEnsemble
	}{
		{"aggregator failure", &stubAggregator{err: errors.New("store down")}, &stubEnsemble{}},
		{"ensemble total failure", &stubAggregator{fv: &event.FeatureVector{}}, &stubEnsemble{err: errors.New("all members down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, handler := newStage(t, tt.agg, tt.ens, nil)
			if err := stage.Forward(context.Background(), normEvent()); err == nil {
				t.Fatal("expected error")
			}
			if len(handler.all()) != 0 {
				t.Error("no decision must be dispatched on failure")
			}
		})
	}
}
