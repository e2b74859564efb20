// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package event defines the data model shared across the pipeline: raw
// telemetry events tagged by source, the unified normalized representation,
// feature vectors, ensemble model scores, and risk decisions.
package event

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Source identifies the telemetry adapter a raw event came from.
// Normalization dispatches on this tag.
type Source string

const (
	SourceAzureAD    Source = "azure_ad"
	SourceCloudTrail Source = "cloudtrail"
	SourceAPIGateway Source = "api_gateway"
	SourceGeneric    Source = "generic"
)

// KnownSources lists all recognized source tags.
var KnownSources = []Source{SourceAzureAD, SourceCloudTrail, SourceAPIGateway, SourceGeneric}

// Valid reports whether the source tag is one of the known adapters.
func (s Source) Valid() bool {
	switch s {
	case SourceAzureAD, SourceCloudTrail, SourceAPIGateway, SourceGeneric:
		return true
	}
	return false
}

// RawEvent is a telemetry event as accepted at the ingestion boundary.
// It is immutable once enqueued.
type RawEvent struct {
	// ID uniquely identifies the event. Assigned at ingestion if the
	// source did not provide one.
	ID string `json:"id" validate:"required"`

	// Source is the adapter tag the payload belongs to.
	Source Source `json:"source" validate:"required"`

	// Payload is the source-specific event body, opaque until normalization.
	Payload json.RawMessage `json:"payload" validate:"required"`

	// ArrivalTime is when the event reached the ingestion boundary.
	ArrivalTime time.Time `json:"arrival_time"`
}

var validate = validator.New()

// ValidationError describes a malformed RawEvent rejected at the queue
// boundary. Events failing validation are never enqueued.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Message)
}

// Validate checks the event against the boundary contract.
func (e *RawEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &ValidationError{Field: errs[0].Field(), Message: "failed " + errs[0].Tag() + " check"}
		}
		return &ValidationError{Field: "event", Message: err.Error()}
	}
	if !e.Source.Valid() {
		return &ValidationError{Field: "Source", Message: fmt.Sprintf("unknown source %q", e.Source)}
	}
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return &ValidationError{Field: "Payload", Message: "empty payload"}
	}
	return nil
}

// QueueItem wraps a RawEvent with queue bookkeeping. It is owned exclusively
// by the queue until dequeued by a worker.
type QueueItem struct {
	// Seq is the global sequence number, strictly increasing in enqueue
	// order. Within a partition this gives arrival order.
	Seq uint64 `json:"seq"`

	// PartitionKey routes the event to a deterministic worker and scopes
	// the ordering guarantee. Derived from the entity identifier.
	PartitionKey string `json:"partition_key"`

	// Event is the wrapped raw event.
	Event RawEvent `json:"event"`

	// EnqueuedAt is when the queue accepted the item.
	EnqueuedAt time.Time `json:"enqueued_at"`
}
