// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package normalize

import (
	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
)

// keyProbe decodes only the identity fields of a raw payload. The ingest
// boundary needs the partition key before a worker runs full normalization.
type keyProbe struct {
	EntityID          string `json:"entity_id"`
	UserPrincipalName string `json:"userPrincipalName"`
	UserID            string `json:"userId"`

	UserIdentity struct {
		ARN         string `json:"arn"`
		UserName    string `json:"userName"`
		PrincipalID string `json:"principalId"`
	} `json:"userIdentity"`

	Identity struct {
		APIKeyID string `json:"apiKeyId"`
		User     string `json:"user"`
		Caller   string `json:"caller"`
	} `json:"identity"`
}

// PartitionKey extracts the entity identifier a raw event will normalize to,
// falling back to the raw event ID when no identity field is present.
// Events without a recognizable identity still get a stable key, so they
// keep FIFO ordering relative to themselves.
func PartitionKey(raw event.RawEvent) string {
	var p keyProbe
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return raw.ID
	}

	var key string
	switch raw.Source {
	case event.SourceAzureAD:
		key = firstNonEmpty(p.UserPrincipalName, p.UserID)
	case event.SourceCloudTrail:
		key = firstNonEmpty(p.UserIdentity.ARN, p.UserIdentity.UserName, p.UserIdentity.PrincipalID)
	case event.SourceAPIGateway:
		key = firstNonEmpty(p.Identity.APIKeyID, p.Identity.User, p.Identity.Caller)
	case event.SourceGeneric:
		key = p.EntityID
	}
	if key == "" {
		return raw.ID
	}
	return key
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
