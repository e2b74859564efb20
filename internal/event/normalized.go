// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package event

import (
	"time"

	"github.com/goccy/go-json"
)

// EntityType classifies the actor behind an event.
type EntityType string

const (
	EntityUser    EntityType = "user"
	EntityService EntityType = "service"
	EntityDevice  EntityType = "device"
	EntityUnknown EntityType = "unknown"
)

// EventType is the high-level event category in the unified schema.
type EventType string

const (
	EventAuthentication EventType = "authentication"
	EventAuthorization  EventType = "authorization"
	EventAPICall        EventType = "api_call"
	EventCloudAPI       EventType = "cloud_api"
	EventDataAccess     EventType = "data_access"
	EventAdminAction    EventType = "admin_action"
)

// LocationContext carries geographic information attached to an event.
type LocationContext struct {
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// DeviceContext carries device fingerprint information.
type DeviceContext struct {
	DeviceID string `json:"device_id,omitempty"`
	OS       string `json:"os,omitempty"`
	Browser  string `json:"browser,omitempty"`
	IsMobile bool   `json:"is_mobile,omitempty"`
}

// ResourceContext identifies the resource an event acted on.
type ResourceContext struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// NormalizedEvent is the unified representation produced by normalization.
// Downstream stages treat it as read-only.
type NormalizedEvent struct {
	// Core identity
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	SessionID  string     `json:"session_id,omitempty"`

	// Event metadata
	EventType    EventType `json:"event_type"`
	EventSubtype string    `json:"event_subtype,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	// Network context
	SourceIP  string `json:"source_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Structured context
	Location *LocationContext `json:"location,omitempty"`
	Device   *DeviceContext   `json:"device,omitempty"`
	Resource *ResourceContext `json:"resource,omitempty"`

	// Provenance
	SourceSystem        Source    `json:"source_system"`
	RawEventID          string    `json:"raw_event_id"`
	IngestionTimestamp  time.Time `json:"ingestion_timestamp"`
	ProcessingTimestamp time.Time `json:"processing_timestamp"`

	// SourceSpecific preserves adapter fields that have no unified slot.
	SourceSpecific map[string]json.RawMessage `json:"source_specific,omitempty"`
}

// PartitionKey returns the key used for ordering and worker routing.
func (n *NormalizedEvent) PartitionKey() string {
	if n.EntityID != "" {
		return n.EntityID
	}
	return n.RawEventID
}
