// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package scoring

import (
	"context"

	"github.com/veridianlabs/riskpipe/internal/engine"
	"github.com/veridianlabs/riskpipe/internal/event"
)

// LocalAggregator derives a small feature vector directly from the
// normalized event. It is a development stand-in for the feature
// aggregation service and carries no historical state.
type LocalAggregator struct{}

// Aggregate builds the vector from the event's own fields.
func (LocalAggregator) Aggregate(_ context.Context, ev *event.NormalizedEvent) (*event.FeatureVector, error) {
	features := map[string]float64{
		"hour_of_day":    float64(ev.Timestamp.UTC().Hour()),
		"event_failed":   boolFeature(!ev.Success),
		"admin_action":   boolFeature(ev.EventType == event.EventAdminAction),
		"off_hours":      boolFeature(offHours(ev.Timestamp.UTC().Hour())),
		"service_entity": boolFeature(ev.EntityType == event.EntityService),
	}
	return &event.FeatureVector{
		EntityID:  ev.EntityID,
		Timestamp: ev.Timestamp,
		Features:  features,
	}, nil
}

// LocalEnsemble scores feature vectors with fixed per-model heuristics so
// every configured model reports. Scores are deterministic functions of
// the vector, which keeps development decisions reproducible.
type LocalEnsemble struct{}

// Score reports all four default models.
func (LocalEnsemble) Score(_ context.Context, fv *event.FeatureVector) ([]event.ModelScore, error) {
	failed := fv.Features["event_failed"]
	admin := fv.Features["admin_action"]
	off := fv.Features["off_hours"]
	service := fv.Features["service_entity"]

	return []event.ModelScore{
		{
			Model:      engine.ModelIsolationForest,
			Score:      clamp01(0.10 + 0.40*failed + 0.25*admin + 0.15*off),
			Confidence: 0.9,
		},
		{
			Model:      engine.ModelSequence,
			Score:      clamp01(0.05 + 0.30*failed + 0.35*off),
			Confidence: 0.85,
		},
		{
			Model:      engine.ModelGraph,
			Score:      clamp01(0.10 + 0.30*admin + 0.20*service),
			Confidence: 0.8,
		},
		{
			Model:      engine.ModelContext,
			Score:      clamp01(0.05 + 0.25*failed + 0.25*off + 0.20*admin),
			Confidence: 0.85,
		},
	}, nil
}

func offHours(hour int) bool {
	return hour < 6 || hour >= 22
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
