// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package normalize

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
)

// cloudTrailPayload mirrors the AWS CloudTrail record fields that map into
// the unified schema.
type cloudTrailPayload struct {
	EventID         string `json:"eventID"`
	EventTime       string `json:"eventTime"`
	EventName       string `json:"eventName"`
	EventSource     string `json:"eventSource"`
	AWSRegion       string `json:"awsRegion"`
	SourceIPAddress string `json:"sourceIPAddress"`
	UserAgent       string `json:"userAgent"`
	ErrorCode       string `json:"errorCode"`
	ErrorMessage    string `json:"errorMessage"`
	ReadOnly        bool   `json:"readOnly"`

	UserIdentity struct {
		Type        string `json:"type"`
		ARN         string `json:"arn"`
		UserName    string `json:"userName"`
		PrincipalID string `json:"principalId"`
		AccountID   string `json:"accountId"`
	} `json:"userIdentity"`

	RequestParameters json.RawMessage `json:"requestParameters"`
}

// adminEventSources flags CloudTrail services whose mutating calls count as
// administrative actions rather than plain cloud API calls.
var adminEventSources = map[string]bool{
	"iam.amazonaws.com":           true,
	"organizations.amazonaws.com": true,
	"sts.amazonaws.com":           true,
}

func normalizeCloudTrail(raw event.RawEvent) (*event.NormalizedEvent, error) {
	var p cloudTrailPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	entityID := p.UserIdentity.ARN
	if entityID == "" {
		entityID = p.UserIdentity.UserName
	}
	if entityID == "" {
		entityID = p.UserIdentity.PrincipalID
	}
	if entityID == "" {
		return nil, fmt.Errorf("missing user identity")
	}

	entityType := event.EntityUser
	switch p.UserIdentity.Type {
	case "AssumedRole", "AWSService", "AWSAccount":
		entityType = event.EntityService
	}

	eventType := event.EventCloudAPI
	if adminEventSources[strings.ToLower(p.EventSource)] && !p.ReadOnly {
		eventType = event.EventAdminAction
	}

	norm := &event.NormalizedEvent{
		EntityID:     entityID,
		EntityType:   entityType,
		EventType:    eventType,
		EventSubtype: p.EventName,
		Timestamp:    parseTimestamp(p.EventTime),
		Success:      p.ErrorCode == "",
		ErrorCode:    p.ErrorCode,
		ErrorMessage: p.ErrorMessage,
		SourceIP:     p.SourceIPAddress,
		UserAgent:    p.UserAgent,
		Resource: &event.ResourceContext{
			Type: "aws_service",
			ID:   p.EventSource,
			Name: p.EventName,
		},
	}

	specific := preserveFields(map[string]string{
		"awsRegion":    p.AWSRegion,
		"accountId":    p.UserIdentity.AccountID,
		"identityType": p.UserIdentity.Type,
	})
	if len(p.RequestParameters) > 0 && string(p.RequestParameters) != "null" {
		if specific == nil {
			specific = make(map[string]json.RawMessage, 1)
		}
		specific["requestParameters"] = p.RequestParameters
	}
	norm.SourceSpecific = specific
	return norm, nil
}
