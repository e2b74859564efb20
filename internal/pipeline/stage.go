// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package pipeline runs the decision stage: normalized events flow through
// the external feature aggregator and model ensemble, then the risk engine,
// explainability ranking, and enforcement dispatch. The stage plugs into the
// stream processor as its forwarder.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/veridianlabs/riskpipe/internal/enforce"
	"github.com/veridianlabs/riskpipe/internal/engine"
	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/explain"
	"github.com/veridianlabs/riskpipe/internal/logging"
)

// FeatureAggregator turns a normalized event into a feature vector. It is an
// external collaborator; failures are transient and follow the processor's
// retry path.
type FeatureAggregator interface {
	Aggregate(ctx context.Context, ev *event.NormalizedEvent) (*event.FeatureVector, error)
}

// ModelEnsemble scores a feature vector with every available member. A
// member that fails to answer is simply absent from the result; the stage
// proceeds degraded with whatever subset reported. An error with no scores
// at all is transient.
type ModelEnsemble interface {
	Score(ctx context.Context, fv *event.FeatureVector) ([]event.ModelScore, error)
}

// ContextFunc derives the multiplier-matching context attributes from a
// normalized event.
type ContextFunc func(ev *event.NormalizedEvent) engine.Context

// Stage wires the decision path together. It implements the processor's
// Forwarder interface.
type Stage struct {
	timeout    time.Duration
	aggregator FeatureAggregator
	ensemble   ModelEnsemble
	engine     *engine.Engine
	explainer  *explain.Explainer
	dispatcher *enforce.Dispatcher
	contextFn  ContextFunc
}

// New returns a decision stage. contextFn may be nil, in which case no
// context multipliers apply. timeout bounds each external call.
func New(timeout time.Duration, aggregator FeatureAggregator, ensemble ModelEnsemble,
	eng *engine.Engine, explainer *explain.Explainer, dispatcher *enforce.Dispatcher,
	contextFn ContextFunc) (*Stage, error) {

	if aggregator == nil || ensemble == nil || eng == nil || explainer == nil || dispatcher == nil {
		return nil, fmt.Errorf("pipeline: aggregator, ensemble, engine, explainer and dispatcher are required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Stage{
		timeout:    timeout,
		aggregator: aggregator,
		ensemble:   ensemble,
		engine:     eng,
		explainer:  explainer,
		dispatcher: dispatcher,
		contextFn:  contextFn,
	}, nil
}

// Forward scores the event and dispatches the resulting decision exactly
// once. Errors from the external collaborators are returned for the caller's
// retry policy; a dispatched decision never returns an error.
func (s *Stage) Forward(ctx context.Context, ev *event.NormalizedEvent) error {
	fv, err := s.aggregate(ctx, ev)
	if err != nil {
		return fmt.Errorf("aggregate features for %s: %w", ev.EntityID, err)
	}

	scores, err := s.score(ctx, fv)
	if err != nil {
		if len(scores) == 0 {
			return fmt.Errorf("score %s: %w", ev.EntityID, err)
		}
		// A partial ensemble still decides, at reduced confidence.
		logging.Warn().
			Err(err).
			Str("entity_id", ev.EntityID).
			Int("members_reporting", len(scores)).
			Msg("Ensemble degraded, proceeding with partial scores")
	}

	var ectx engine.Context
	if s.contextFn != nil {
		ectx = s.contextFn(ev)
	}

	decision, err := s.engine.Score(ev.EntityID, ectx, scores)
	if err != nil {
		return fmt.Errorf("decide %s: %w", ev.EntityID, err)
	}

	factors := s.explainer.Explain(fv, scores, decision)
	decision.Factors = s.explainer.Top(factors)

	s.dispatcher.Dispatch(ctx, decision)
	return nil
}

func (s *Stage) aggregate(ctx context.Context, ev *event.NormalizedEvent) (*event.FeatureVector, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.aggregator.Aggregate(ctx, ev)
}

func (s *Stage) score(ctx context.Context, fv *event.FeatureVector) ([]event.ModelScore, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.ensemble.Score(ctx, fv)
}
