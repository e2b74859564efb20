// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/event"
)

// azureADPayload mirrors the fields of an Azure AD sign-in log entry that
// map into the unified schema.
type azureADPayload struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
	UserID            string `json:"userId"`
	CorrelationID     string `json:"correlationId"`
	CreatedDateTime   string `json:"createdDateTime"`
	IPAddress         string `json:"ipAddress"`
	ClientAppUsed     string `json:"clientAppUsed"`
	AppID             string `json:"appId"`
	AppDisplayName    string `json:"appDisplayName"`

	Status struct {
		ErrorCode     *int   `json:"errorCode"`
		FailureReason string `json:"failureReason"`
	} `json:"status"`

	Location *struct {
		City            string `json:"city"`
		CountryOrRegion string `json:"countryOrRegion"`
		GeoCoordinates  struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"geoCoordinates"`
	} `json:"location"`

	DeviceDetail *struct {
		DeviceID        string `json:"deviceId"`
		OperatingSystem string `json:"operatingSystem"`
		Browser         string `json:"browser"`
	} `json:"deviceDetail"`

	RiskLevelDuringSignIn string `json:"riskLevelDuringSignIn"`
	RiskState             string `json:"riskState"`
	RiskDetail            string `json:"riskDetail"`
}

func normalizeAzureAD(raw event.RawEvent) (*event.NormalizedEvent, error) {
	var p azureADPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	entityID := p.UserPrincipalName
	if entityID == "" {
		entityID = p.UserID
	}
	if entityID == "" {
		return nil, fmt.Errorf("missing user principal name and user id")
	}

	// A sign-in succeeded when no error code is reported.
	success := p.Status.ErrorCode == nil || *p.Status.ErrorCode == 0

	norm := &event.NormalizedEvent{
		EntityID:     entityID,
		EntityType:   event.EntityUser,
		SessionID:    p.CorrelationID,
		EventType:    event.EventAuthentication,
		EventSubtype: "sign_in",
		Timestamp:    parseTimestamp(p.CreatedDateTime),
		Success:      success,
		SourceIP:     p.IPAddress,
		UserAgent:    p.ClientAppUsed,
		Resource: &event.ResourceContext{
			Type: "application",
			ID:   p.AppID,
			Name: p.AppDisplayName,
		},
	}

	if !success {
		norm.ErrorCode = strconv.Itoa(*p.Status.ErrorCode)
		norm.ErrorMessage = p.Status.FailureReason
	}

	if p.Location != nil {
		norm.Location = &event.LocationContext{
			City:      p.Location.City,
			Country:   p.Location.CountryOrRegion,
			Latitude:  p.Location.GeoCoordinates.Latitude,
			Longitude: p.Location.GeoCoordinates.Longitude,
		}
	}

	if p.DeviceDetail != nil {
		os := strings.ToLower(p.DeviceDetail.OperatingSystem)
		norm.Device = &event.DeviceContext{
			DeviceID: p.DeviceDetail.DeviceID,
			OS:       p.DeviceDetail.OperatingSystem,
			Browser:  p.DeviceDetail.Browser,
			IsMobile: os == "ios" || os == "android",
		}
	}

	norm.SourceSpecific = preserveFields(map[string]string{
		"riskLevelDuringSignIn": p.RiskLevelDuringSignIn,
		"riskState":             p.RiskState,
		"riskDetail":            p.RiskDetail,
	})
	return norm, nil
}

// preserveFields keeps non-empty source fields that have no unified slot.
func preserveFields(fields map[string]string) map[string]json.RawMessage {
	var out map[string]json.RawMessage
	for k, v := range fields {
		if v == "" {
			continue
		}
		if out == nil {
			out = make(map[string]json.RawMessage, len(fields))
		}
		enc, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = enc
	}
	return out
}
