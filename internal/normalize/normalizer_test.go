// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
)

func raw(source event.Source, payload string) event.RawEvent {
	return event.RawEvent{
		ID:          "raw-1",
		Source:      source,
		Payload:     json.RawMessage(payload),
		ArrivalTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNormalizeAzureAD(t *testing.T) {
	payload := `{
		"id": "aad-1",
		"userPrincipalName": "alice@example.com",
		"correlationId": "corr-1",
		"createdDateTime": "2026-03-01T11:59:30Z",
		"ipAddress": "203.0.113.10",
		"clientAppUsed": "Browser",
		"appId": "app-1",
		"appDisplayName": "Payroll",
		"status": {"errorCode": 50126, "failureReason": "Invalid credentials"},
		"location": {"city": "Oslo", "countryOrRegion": "NO", "geoCoordinates": {"latitude": 59.91, "longitude": 10.75}},
		"deviceDetail": {"deviceId": "dev-1", "operatingSystem": "iOS", "browser": "Safari"},
		"riskLevelDuringSignIn": "medium"
	}`

	n := New()
	norm, err := n.Normalize(raw(event.SourceAzureAD, payload))
	if err != nil {
		t.Fatal(err)
	}

	if norm.EntityID != "alice@example.com" {
		t.Errorf("entity id = %q", norm.EntityID)
	}
	if norm.EntityType != event.EntityUser {
		t.Errorf("entity type = %q", norm.EntityType)
	}
	if norm.EventType != event.EventAuthentication || norm.EventSubtype != "sign_in" {
		t.Errorf("event type = %q/%q", norm.EventType, norm.EventSubtype)
	}
	if norm.Success {
		t.Error("failed sign-in reported as success")
	}
	if norm.ErrorCode != "50126" || norm.ErrorMessage != "Invalid credentials" {
		t.Errorf("error = %q/%q", norm.ErrorCode, norm.ErrorMessage)
	}
	if norm.Location == nil || norm.Location.City != "Oslo" {
		t.Errorf("location = %+v", norm.Location)
	}
	if norm.Device == nil || !norm.Device.IsMobile {
		t.Errorf("device = %+v, want mobile iOS", norm.Device)
	}
	if norm.SourceSystem != event.SourceAzureAD || norm.RawEventID != "raw-1" {
		t.Errorf("provenance = %q/%q", norm.SourceSystem, norm.RawEventID)
	}
	if _, ok := norm.SourceSpecific["riskLevelDuringSignIn"]; !ok {
		t.Error("risk level not preserved in source_specific")
	}
}

func TestNormalizeAzureADSuccessWithoutErrorCode(t *testing.T) {
	n := New()
	norm, err := n.Normalize(raw(event.SourceAzureAD, `{"userPrincipalName":"bob@example.com","status":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	if !norm.Success {
		t.Error("sign-in without error code must be a success")
	}
	if norm.ErrorCode != "" {
		t.Errorf("error code = %q, want empty", norm.ErrorCode)
	}
}

func TestNormalizeCloudTrail(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		entityID   string
		entityType event.EntityType
		eventType  event.EventType
		success    bool
	}{
		{
			name: "iam user admin action",
			payload: `{
				"eventID": "ct-1", "eventTime": "2026-03-01T10:00:00Z",
				"eventName": "CreateAccessKey", "eventSource": "iam.amazonaws.com",
				"sourceIPAddress": "198.51.100.7",
				"userIdentity": {"type": "IAMUser", "arn": "arn:aws:iam::123:user/alice", "userName": "alice"}
			}`,
			entityID:   "arn:aws:iam::123:user/alice",
			entityType: event.EntityUser,
			eventType:  event.EventAdminAction,
			success:    true,
		},
		{
			name: "assumed role api failure",
			payload: `{
				"eventName": "GetObject", "eventSource": "s3.amazonaws.com",
				"errorCode": "AccessDenied", "errorMessage": "denied",
				"userIdentity": {"type": "AssumedRole", "principalId": "AROA123:session"}
			}`,
			entityID:   "AROA123:session",
			entityType: event.EntityService,
			eventType:  event.EventCloudAPI,
			success:    false,
		},
		{
			name: "read-only iam call stays cloud_api",
			payload: `{
				"eventName": "ListUsers", "eventSource": "iam.amazonaws.com", "readOnly": true,
				"userIdentity": {"type": "IAMUser", "userName": "carol"}
			}`,
			entityID:   "carol",
			entityType: event.EntityUser,
			eventType:  event.EventCloudAPI,
			success:    true,
		},
	}

	n := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			norm, err := n.Normalize(raw(event.SourceCloudTrail, tt.payload))
			if err != nil {
				t.Fatal(err)
			}
			if norm.EntityID != tt.entityID {
				t.Errorf("entity id = %q, want %q", norm.EntityID, tt.entityID)
			}
			if norm.EntityType != tt.entityType {
				t.Errorf("entity type = %q, want %q", norm.EntityType, tt.entityType)
			}
			if norm.EventType != tt.eventType {
				t.Errorf("event type = %q, want %q", norm.EventType, tt.eventType)
			}
			if norm.Success != tt.success {
				t.Errorf("success = %v, want %v", norm.Success, tt.success)
			}
		})
	}
}

func TestNormalizeAPIGateway(t *testing.T) {
	payload := `{
		"requestId": "req-1",
		"requestTime": "2026-03-01T09:30:00Z",
		"httpMethod": "DELETE",
		"resourcePath": "/v1/accounts/{id}",
		"status": 403,
		"userAgent": "curl/8.5",
		"identity": {"sourceIp": "192.0.2.44", "apiKeyId": "key-9"}
	}`

	n := New()
	norm, err := n.Normalize(raw(event.SourceAPIGateway, payload))
	if err != nil {
		t.Fatal(err)
	}
	if norm.EntityID != "key-9" || norm.EntityType != event.EntityService {
		t.Errorf("entity = %q/%q", norm.EntityID, norm.EntityType)
	}
	if norm.EventSubtype != "DELETE /v1/accounts/{id}" {
		t.Errorf("subtype = %q", norm.EventSubtype)
	}
	if norm.Success {
		t.Error("status 403 reported as success")
	}
	if norm.ErrorCode != "403" {
		t.Errorf("error code = %q", norm.ErrorCode)
	}
}

func TestNormalizeGeneric(t *testing.T) {
	n := New()
	norm, err := n.Normalize(raw(event.SourceGeneric, `{"entity_id":"svc-7","event_type":"data_access","success":false}`))
	if err != nil {
		t.Fatal(err)
	}
	if norm.EntityID != "svc-7" {
		t.Errorf("entity id = %q", norm.EntityID)
	}
	if norm.EventType != event.EventDataAccess {
		t.Errorf("event type = %q", norm.EventType)
	}
	if norm.Success {
		t.Error("success = true, want false")
	}
	if norm.EntityType != event.EntityUnknown {
		t.Errorf("entity type = %q, want unknown fallback", norm.EntityType)
	}
	// Missing event timestamp falls back to arrival time.
	if !norm.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v, want arrival time fallback", norm.Timestamp)
	}
}

func TestNormalizeGenericPreservesUnmappedFields(t *testing.T) {
	n := New()
	norm, err := n.Normalize(raw(event.SourceGeneric, `{
		"entity_id": "svc-7",
		"event_type": "data_access",
		"resource_sensitivity": "CRITICAL",
		"actor_role": "ADMIN",
		"region": "eu-west-1"
	}`))
	if err != nil {
		t.Fatal(err)
	}

	for field, want := range map[string]string{
		"resource_sensitivity": "CRITICAL",
		"actor_role":           "ADMIN",
		"region":               "eu-west-1",
	} {
		rawVal, ok := norm.SourceSpecific[field]
		if !ok {
			t.Errorf("field %q not preserved", field)
			continue
		}
		var got string
		if err := json.Unmarshal(rawVal, &got); err != nil {
			t.Errorf("field %q: %v", field, err)
			continue
		}
		if got != want {
			t.Errorf("field %q = %q, want %q", field, got, want)
		}
	}

	// Mapped fields stay in their unified slots only.
	for _, field := range []string{"entity_id", "event_type"} {
		if _, ok := norm.SourceSpecific[field]; ok {
			t.Errorf("mapped field %q duplicated into SourceSpecific", field)
		}
	}
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name  string
		event event.RawEvent
	}{
		{"unknown source", raw(event.Source("syslog"), `{}`)},
		{"azure_ad missing identity", raw(event.SourceAzureAD, `{"status":{}}`)},
		{"cloudtrail missing identity", raw(event.SourceCloudTrail, `{"eventName":"x"}`)},
		{"api_gateway missing identity", raw(event.SourceAPIGateway, `{"status":200}`)},
		{"generic missing entity", raw(event.SourceGeneric, `{}`)},
		{"malformed json", raw(event.SourceGeneric, `{"entity_id":`)},
	}

	n := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.event)
			if err == nil {
				t.Fatal("expected error")
			}
			var ne *Error
			if !errors.As(err, &ne) {
				t.Errorf("expected *Error, got %T", err)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input string
		zero  bool
	}{
		{"2026-03-01T10:00:00Z", false},
		{"2026-03-01T10:00:00.123456Z", false},
		{"2026-03-01 10:00:00", false},
		{"", true},
		{"yesterday", true},
	}
	for _, tt := range tests {
		got := parseTimestamp(tt.input)
		if got.IsZero() != tt.zero {
			t.Errorf("parseTimestamp(%q).IsZero() = %v, want %v", tt.input, got.IsZero(), tt.zero)
		}
	}
}
