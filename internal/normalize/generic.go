// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package normalize

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
)

// genericPayload is the passthrough adapter for sources that already emit
// the unified field names.
type genericPayload struct {
	EntityID     string `json:"entity_id"`
	EntityType   string `json:"entity_type"`
	EventType    string `json:"event_type"`
	EventSubtype string `json:"event_subtype"`
	SessionID    string `json:"session_id"`
	Timestamp    string `json:"timestamp"`
	Success      *bool  `json:"success"`
	SourceIP     string `json:"source_ip"`
	UserAgent    string `json:"user_agent"`
}

// mappedGenericFields are the payload keys with a unified slot; everything
// else is preserved verbatim under SourceSpecific.
var mappedGenericFields = map[string]struct{}{
	"entity_id":     {},
	"entity_type":   {},
	"event_type":    {},
	"event_subtype": {},
	"session_id":    {},
	"timestamp":     {},
	"success":       {},
	"source_ip":     {},
	"user_agent":    {},
}

func normalizeGeneric(raw event.RawEvent) (*event.NormalizedEvent, error) {
	var p genericPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.EntityID == "" {
		return nil, fmt.Errorf("missing entity_id")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw.Payload, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var extra map[string]json.RawMessage
	for k, v := range fields {
		if _, ok := mappedGenericFields[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage, len(fields))
		}
		extra[k] = v
	}

	// Absent success means the source observed no outcome; treat as success
	// so a partial feed never inflates failure-rate features.
	success := p.Success == nil || *p.Success

	eventType := event.EventType(p.EventType)
	if eventType == "" {
		eventType = event.EventAPICall
	}

	return &event.NormalizedEvent{
		EntityID:       p.EntityID,
		EntityType:     event.EntityType(p.EntityType),
		SessionID:      p.SessionID,
		EventType:      eventType,
		EventSubtype:   p.EventSubtype,
		Timestamp:      parseTimestamp(p.Timestamp),
		Success:        success,
		SourceIP:       p.SourceIP,
		UserAgent:      p.UserAgent,
		SourceSpecific: extra,
	}, nil
}
