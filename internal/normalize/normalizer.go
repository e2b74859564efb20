// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package normalize converts source-specific raw events into the unified
// NormalizedEvent schema. Dispatch is driven by the event's source tag; each
// known adapter (Azure AD sign-in logs, AWS CloudTrail, API Gateway access
// logs, plus a generic passthrough) has its own mapper.
package normalize

import (
	"fmt"
	"time"

	"github.com/veridianlabs/riskpipe/internal/event"
)

// Error wraps a normalization failure with its source tag.
// Normalization failures are not transient; retrying them cannot succeed.
type Error struct {
	Source event.Source
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %s event: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type mapper func(raw event.RawEvent) (*event.NormalizedEvent, error)

// Normalizer maps raw events to the unified schema.
type Normalizer struct {
	mappers map[event.Source]mapper
}

// New returns a normalizer with all known source adapters registered.
func New() *Normalizer {
	return &Normalizer{
		mappers: map[event.Source]mapper{
			event.SourceAzureAD:    normalizeAzureAD,
			event.SourceCloudTrail: normalizeCloudTrail,
			event.SourceAPIGateway: normalizeAPIGateway,
			event.SourceGeneric:    normalizeGeneric,
		},
	}
}

// Normalize converts a raw event to the unified schema.
func (n *Normalizer) Normalize(raw event.RawEvent) (*event.NormalizedEvent, error) {
	m, ok := n.mappers[raw.Source]
	if !ok {
		return nil, &Error{Source: raw.Source, Err: fmt.Errorf("unknown source type")}
	}

	norm, err := m(raw)
	if err != nil {
		return nil, &Error{Source: raw.Source, Err: err}
	}

	norm.SourceSystem = raw.Source
	norm.RawEventID = raw.ID
	norm.IngestionTimestamp = raw.ArrivalTime
	norm.ProcessingTimestamp = time.Now().UTC()
	if norm.Timestamp.IsZero() {
		norm.Timestamp = raw.ArrivalTime
	}
	if norm.EntityType == "" {
		norm.EntityType = event.EntityUnknown
	}
	return norm, nil
}

// parseTimestamp accepts the timestamp formats the supported sources emit.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
