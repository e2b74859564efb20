// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package normalize

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
)

// apiGatewayPayload mirrors an API Gateway access log entry.
type apiGatewayPayload struct {
	RequestID    string `json:"requestId"`
	RequestTime  string `json:"requestTime"`
	HTTPMethod   string `json:"httpMethod"`
	ResourcePath string `json:"resourcePath"`
	Path         string `json:"path"`
	Status       int    `json:"status"`
	UserAgent    string `json:"userAgent"`

	Identity struct {
		SourceIP string `json:"sourceIp"`
		APIKeyID string `json:"apiKeyId"`
		Caller   string `json:"caller"`
		User     string `json:"user"`
	} `json:"identity"`

	ResponseLatencyMs float64 `json:"responseLatency"`
}

func normalizeAPIGateway(raw event.RawEvent) (*event.NormalizedEvent, error) {
	var p apiGatewayPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	// API callers are identified by key, then by caller principal. Both
	// missing means the request cannot be attributed to an entity.
	entityID := p.Identity.APIKeyID
	entityType := event.EntityService
	if entityID == "" {
		entityID = p.Identity.User
		entityType = event.EntityUser
	}
	if entityID == "" {
		entityID = p.Identity.Caller
		entityType = event.EntityUnknown
	}
	if entityID == "" {
		return nil, fmt.Errorf("missing api key id, user, and caller")
	}

	path := p.ResourcePath
	if path == "" {
		path = p.Path
	}

	norm := &event.NormalizedEvent{
		EntityID:     entityID,
		EntityType:   entityType,
		SessionID:    p.RequestID,
		EventType:    event.EventAPICall,
		EventSubtype: p.HTTPMethod + " " + path,
		Timestamp:    parseTimestamp(p.RequestTime),
		Success:      p.Status > 0 && p.Status < 400,
		SourceIP:     p.Identity.SourceIP,
		UserAgent:    p.UserAgent,
		Resource: &event.ResourceContext{
			Type: "api_endpoint",
			ID:   path,
			Name: p.HTTPMethod,
		},
	}

	if !norm.Success && p.Status > 0 {
		norm.ErrorCode = strconv.Itoa(p.Status)
	}

	if p.ResponseLatencyMs > 0 {
		norm.SourceSpecific = preserveFields(map[string]string{
			"responseLatencyMs": strconv.FormatFloat(p.ResponseLatencyMs, 'f', -1, 64),
		})
	}
	return norm, nil
}
