// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package engine

import (
	"fmt"
	"math"
)

// Ensemble member names as reported by the model ensemble.
const (
	ModelIsolationForest = "isolation_forest"
	ModelSequence        = "sequence_model"
	ModelGraph           = "graph_model"
	ModelContext         = "context_model"
)

// weightSumEpsilon is the tolerance when checking that ensemble weights
// sum to 1.0.
const weightSumEpsilon = 1e-6

// Multiplier scales the risk score when a context attribute matches.
// Multipliers compose multiplicatively in declared order.
type Multiplier struct {
	Field  string  `json:"field" koanf:"field" validate:"required"`
	Equals string  `json:"equals" koanf:"equals" validate:"required"`
	Factor float64 `json:"factor" koanf:"factor" validate:"gt=0"`
}

// Thresholds is the five-tier decision table over risk score R (0-100)
// and confidence C (0-1). Tiers are evaluated in order; first match wins:
//
//	R < Allow                               -> ALLOW
//	R < Alert                               -> ALERT
//	R < Block and C > ChallengeConfidence   -> CHALLENGE
//	R >= Block and C > BlockConfidence      -> BLOCK
//	otherwise                               -> ALERT, tagged low confidence
type Thresholds struct {
	Allow               float64 `json:"allow" koanf:"allow"`
	Alert               float64 `json:"alert" koanf:"alert"`
	Block               float64 `json:"block" koanf:"block"`
	ChallengeConfidence float64 `json:"challenge_confidence" koanf:"challenge_confidence"`
	BlockConfidence     float64 `json:"block_confidence" koanf:"block_confidence"`
}

// Config holds the decision engine configuration. Invalid configuration is
// fatal at startup; the engine never revalidates at runtime.
type Config struct {
	Weights     map[string]float64 `json:"weights" koanf:"weights"`
	Multipliers []Multiplier       `json:"multipliers" koanf:"multipliers"`
	Thresholds  Thresholds         `json:"thresholds" koanf:"thresholds"`
}

// DefaultConfig returns the stock four-member ensemble configuration.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			ModelIsolationForest: 0.30,
			ModelSequence:        0.25,
			ModelGraph:           0.25,
			ModelContext:         0.20,
		},
		Multipliers: []Multiplier{
			{Field: "resource_sensitivity", Equals: "CRITICAL", Factor: 1.5},
			{Field: "actor_role", Equals: "ADMIN", Factor: 1.3},
		},
		Thresholds: Thresholds{
			Allow:               30,
			Alert:               60,
			Block:               80,
			ChallengeConfidence: 0.7,
			BlockConfidence:     0.8,
		},
	}
}

// Validate checks the configuration. Weight problems and malformed
// thresholds are startup failures.
func (c Config) Validate() error {
	if len(c.Weights) == 0 {
		return fmt.Errorf("engine: no ensemble weights configured")
	}
	var sum float64
	for model, w := range c.Weights {
		if model == "" {
			return fmt.Errorf("engine: ensemble weight with empty model name")
		}
		if w <= 0 || w > 1 {
			return fmt.Errorf("engine: weight for %s is %v, must be in (0, 1]", model, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumEpsilon {
		return fmt.Errorf("engine: ensemble weights sum to %v, must sum to 1.0", sum)
	}

	for i, m := range c.Multipliers {
		if m.Field == "" || m.Equals == "" {
			return fmt.Errorf("engine: multiplier %d has an empty condition", i)
		}
		if m.Factor <= 0 {
			return fmt.Errorf("engine: multiplier %d factor is %v, must be > 0", i, m.Factor)
		}
	}

	t := c.Thresholds
	if !(0 < t.Allow && t.Allow < t.Alert && t.Alert < t.Block && t.Block <= 100) {
		return fmt.Errorf("engine: thresholds must satisfy 0 < allow < alert < block <= 100, got %v/%v/%v",
			t.Allow, t.Alert, t.Block)
	}
	if t.ChallengeConfidence < 0 || t.ChallengeConfidence > 1 {
		return fmt.Errorf("engine: challenge confidence %v out of [0, 1]", t.ChallengeConfidence)
	}
	if t.BlockConfidence < 0 || t.BlockConfidence > 1 {
		return fmt.Errorf("engine: block confidence %v out of [0, 1]", t.BlockConfidence)
	}
	return nil
}
