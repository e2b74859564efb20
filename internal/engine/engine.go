// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package engine combines ensemble model scores into a risk decision. The
// combination is a pure function of (scores, context, configuration): given
// identical inputs it always produces an identical decision. Nothing in this
// package blocks, locks, or draws randomness.
package engine

import (
	"fmt"
	"time"

	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/metrics"
)

// maxScoreVariance is the largest possible population variance of values
// in [0, 1], used to normalize ensemble disagreement into a confidence.
const maxScoreVariance = 0.25

// Context carries the entity attributes the multiplier conditions match
// against, e.g. resource_sensitivity or actor_role.
type Context map[string]string

// Engine scores entities against the configured ensemble policy. It is
// stateless per call and safe for concurrent use.
type Engine struct {
	cfg Config

	// totalWeight caches the configured weight sum for degraded-confidence
	// scaling. It is 1.0 for any valid configuration.
	totalWeight float64

	now func() time.Time
}

// New validates cfg and returns an engine. Configuration errors are fatal;
// callers must not retry with the same config.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var total float64
	for _, w := range cfg.Weights {
		total += w
	}
	return &Engine{cfg: cfg, totalWeight: total, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Score combines the given model scores into a risk decision for the entity.
//
// Members missing from scores are treated as unavailable: the remaining
// weights are renormalized so the risk score stays on the 0-100 scale, the
// decision is flagged degraded, and confidence is scaled down by the share
// of configured weight that actually reported. Scores from models with no
// configured weight are ignored.
func (e *Engine) Score(entityID string, ctx Context, scores []event.ModelScore) (*event.RiskDecision, error) {
	available := make([]event.ModelScore, 0, len(scores))
	seen := make(map[string]bool, len(scores))
	var availableWeight, weighted float64
	for _, s := range scores {
		w, ok := e.cfg.Weights[s.Model]
		if !ok || seen[s.Model] {
			continue
		}
		if s.Score < 0 || s.Score > 1 {
			return nil, fmt.Errorf("engine: model %s score %v out of [0, 1]", s.Model, s.Score)
		}
		seen[s.Model] = true
		available = append(available, s)
		availableWeight += w
		weighted += w * s.Score
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("engine: no usable ensemble scores for entity %s", entityID)
	}

	// Renormalize over the members that reported.
	risk := weighted / availableWeight * 100

	degraded := len(available) < len(e.cfg.Weights)
	confidence := agreement(available)
	if degraded {
		confidence *= availableWeight / e.totalWeight
	}

	for _, m := range e.cfg.Multipliers {
		if ctx[m.Field] == m.Equals {
			risk *= m.Factor
		}
	}
	risk = clamp(risk, 0, 100)

	decision, lowConfidence := e.decide(risk, confidence)
	metrics.RecordDecision(string(decision))

	return &event.RiskDecision{
		EntityID:      entityID,
		RiskScore:     risk,
		Decision:      decision,
		Confidence:    confidence,
		LowConfidence: lowConfidence,
		Degraded:      degraded,
		Timestamp:     e.now(),
	}, nil
}

// decide walks the five-tier threshold table in order; first match wins.
func (e *Engine) decide(risk, confidence float64) (event.Decision, bool) {
	t := e.cfg.Thresholds
	switch {
	case risk < t.Allow:
		return event.DecisionAllow, false
	case risk < t.Alert:
		return event.DecisionAlert, false
	case risk < t.Block && confidence > t.ChallengeConfidence:
		return event.DecisionChallenge, false
	case risk >= t.Block && confidence > t.BlockConfidence:
		return event.DecisionBlock, false
	default:
		// The score warrants action but the ensemble disagrees too much
		// to act automatically. Surface it for human review, never ALLOW.
		return event.DecisionAlert, true
	}
}

// agreement maps ensemble score variance onto [0, 1]: 1 means all members
// agree exactly, 0 means maximal disagreement.
func agreement(scores []event.ModelScore) float64 {
	var mean float64
	for _, s := range scores {
		mean += s.Score
	}
	mean /= float64(len(scores))

	var variance float64
	for _, s := range scores {
		d := s.Score - mean
		variance += d * d
	}
	variance /= float64(len(scores))

	return clamp(1-variance/maxScoreVariance, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
