// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package explain ranks the factors that contributed to a risk decision.
// The ranking is deterministic: descending contribution weight, ties broken
// by ascending feature name.
package explain

import (
	"fmt"
	"sort"

	"github.com/veridianlabs/riskpipe/internal/event"
)

// DefaultTopK is the number of factors surfaced by default.
const DefaultTopK = 3

// Explainer attributes a decision's risk score to the ensemble members and
// context that produced it. It is stateless and safe for concurrent use.
type Explainer struct {
	weights map[string]float64
	topK    int
}

// New returns an explainer over the given ensemble weights. topK <= 0 falls
// back to DefaultTopK.
func New(weights map[string]float64, topK int) *Explainer {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Explainer{weights: weights, topK: topK}
}

// Explain returns the full ranked factor list for a decision. Each factor's
// weight is the member's share of the total weighted risk, normalized to
// [0, 1]. Feature values from fv are attached to model factors that share a
// feature's name; absent that, the observed value is the raw model score.
func (e *Explainer) Explain(fv *event.FeatureVector, scores []event.ModelScore, d *event.RiskDecision) []event.Factor {
	var total float64
	for _, s := range scores {
		total += e.weights[s.Model] * s.Score
	}

	factors := make([]event.Factor, 0, len(scores))
	for _, s := range scores {
		w, ok := e.weights[s.Model]
		if !ok {
			continue
		}
		contribution := 0.0
		if total > 0 {
			contribution = w * s.Score / total
		}
		value := s.Score
		if fv != nil {
			if v, ok := fv.Features[s.Model]; ok {
				value = v
			}
		}
		factors = append(factors, event.Factor{
			Feature: s.Model,
			Value:   value,
			Weight:  contribution,
			Description: fmt.Sprintf("%s reported anomaly score %.2f, %.0f%% of the weighted risk",
				s.Model, s.Score, contribution*100),
		})
	}

	Rank(factors)
	return factors
}

// Top truncates a ranked factor list to the configured top-k.
func (e *Explainer) Top(factors []event.Factor) []event.Factor {
	if len(factors) <= e.topK {
		return factors
	}
	return factors[:e.topK]
}

// Rank sorts factors in place: descending weight, then ascending feature
// name so equal contributions have a stable total order.
func Rank(factors []event.Factor) {
	sort.Slice(factors, func(i, j int) bool {
		if factors[i].Weight != factors[j].Weight {
			return factors[i].Weight > factors[j].Weight
		}
		return factors[i].Feature < factors[j].Feature
	})
}
