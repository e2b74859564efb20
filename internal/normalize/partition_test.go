// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package normalize

import (
	"testing"

	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
)

func TestPartitionKey(t *testing.T) {
	tests := []struct {
		name    string
		source  event.Source
		payload string
		want    string
	}{
		{"azure upn", event.SourceAzureAD, `{"userPrincipalName":"alice@example.com"}`, "alice@example.com"},
		{"azure user id fallback", event.SourceAzureAD, `{"userId":"u-1"}`, "u-1"},
		{"cloudtrail arn", event.SourceCloudTrail, `{"userIdentity":{"arn":"arn:x","userName":"bob"}}`, "arn:x"},
		{"cloudtrail principal fallback", event.SourceCloudTrail, `{"userIdentity":{"principalId":"AROA1"}}`, "AROA1"},
		{"api gateway key", event.SourceAPIGateway, `{"identity":{"apiKeyId":"key-1"}}`, "key-1"},
		{"api gateway caller fallback", event.SourceAPIGateway, `{"identity":{"caller":"c-1"}}`, "c-1"},
		{"generic", event.SourceGeneric, `{"entity_id":"svc-1"}`, "svc-1"},
		{"no identity falls back to raw id", event.SourceGeneric, `{}`, "raw-1"},
		{"malformed payload falls back to raw id", event.SourceGeneric, `{"entity_id":`, "raw-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := event.RawEvent{ID: "raw-1", Source: tt.source, Payload: json.RawMessage(tt.payload)}
			if got := PartitionKey(raw); got != tt.want {
				t.Errorf("PartitionKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
