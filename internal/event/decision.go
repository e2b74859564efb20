// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package event

import "time"

// FeatureVector maps feature names to numeric values for one entity at one
// point in time. Produced by the external feature aggregator; consumed
// read-only.
type FeatureVector struct {
	EntityID  string             `json:"entity_id"`
	Timestamp time.Time          `json:"timestamp"`
	Features  map[string]float64 `json:"features"`
}

// ModelScore is one ensemble member's anomaly score for a feature vector.
type ModelScore struct {
	// Model is the ensemble member name, e.g. "isolation_forest".
	Model string `json:"model"`

	// Score is the anomaly score in [0,1].
	Score float64 `json:"score"`

	// Confidence is an optional per-model reconstruction or confidence
	// metric. Zero when the model does not report one.
	Confidence float64 `json:"confidence,omitempty"`
}

// Decision is the enforcement verdict for a scored event.
type Decision string

const (
	DecisionAllow     Decision = "ALLOW"
	DecisionAlert     Decision = "ALERT"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionBlock     Decision = "BLOCK"
)

// Factor is one contributing factor in a decision explanation.
type Factor struct {
	// Feature is the feature name.
	Feature string `json:"feature"`

	// Value is the observed feature value.
	Value float64 `json:"value"`

	// Weight is the normalized contribution weight in [0,1].
	Weight float64 `json:"weight"`

	// Description is a human-readable explanation of the factor.
	Description string `json:"description"`
}

// RiskDecision is the immutable output of the risk scoring engine.
type RiskDecision struct {
	EntityID string `json:"entity_id"`

	// RiskScore is the final risk score in [0,100] after context
	// multipliers and clamping.
	RiskScore float64 `json:"risk_score"`

	// Decision is the enforcement label.
	Decision Decision `json:"decision"`

	// Confidence is the ensemble agreement in [0,1]. It gates the
	// decision thresholds; it never scales the risk score.
	Confidence float64 `json:"confidence"`

	// LowConfidence marks a decision downgraded to ALERT because the
	// ensemble agreement was too weak to act on; requires human review.
	LowConfidence bool `json:"low_confidence,omitempty"`

	// Degraded marks a decision made with a partial ensemble
	// (one or more members failed to return a score).
	Degraded bool `json:"degraded,omitempty"`

	// Factors lists contributing factors, strongest first.
	Factors []Factor `json:"factors,omitempty"`

	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`
}
