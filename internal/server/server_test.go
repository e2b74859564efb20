// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package server

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/veridianlabs/riskpipe/internal/queue"
)

func testServer(t *testing.T, memoryCapacity int, apiKeys ...string) (*Server, *queue.HybridQueue) {
	t.Helper()
	qcfg := queue.DefaultConfig()
	qcfg.MemoryCapacity = memoryCapacity
	qcfg.Workers = 1
	qcfg.OverflowPath = t.TempDir()
	qcfg.SyncWrites = false
	q, err := queue.New(qcfg, queue.NewStats())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { q.Close() })

	cfg := DefaultConfig()
	cfg.APIKeys = apiKeys
	s, err := New(cfg, q)
	if err != nil {
		t.Fatal(err)
	}
	return s, q
}

func postJSON(t *testing.T, handler http.Handler, path, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestAccepted(t *testing.T) {
	s, q := testServer(t, 100, "secret")
	rec := postJSON(t, s.Routes(), "/v1/events", "secret",
		`{"source":"generic","payload":{"entity_id":"alice"}}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	var res ingestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != "accepted" || res.ID == "" {
		t.Errorf("result = %+v, want accepted with assigned id", res)
	}
	if snap := q.Snapshot(); snap.Enqueued != 1 {
		t.Errorf("enqueued = %d, want 1", snap.Enqueued)
	}
}

func TestIngestRequiresAPIKey(t *testing.T) {
	s, _ := testServer(t, 100, "secret")
	h := s.Routes()

	if rec := postJSON(t, h, "/v1/events", "", `{"source":"generic","payload":{}}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", rec.Code)
	}
	if rec := postJSON(t, h, "/v1/events", "wrong", `{"source":"generic","payload":{}}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}
}

func TestIngestRejectsInvalidEvent(t *testing.T) {
	s, q := testServer(t, 100)
	h := s.Routes()

	tests := []struct {
		name string
		body string
	}{
		{"unknown source", `{"source":"syslog","payload":{"x":1}}`},
		{"missing payload", `{"source":"generic"}`},
		{"malformed body", `{"source":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postJSON(t, h, "/v1/events", "", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body)
			}
		})
	}

	// Validation rejections never count as enqueued.
	if snap := q.Snapshot(); snap.Enqueued != 0 {
		t.Errorf("enqueued = %d, want 0", snap.Enqueued)
	}
}

func TestIngestOverflowSignal(t *testing.T) {
	s, _ := testServer(t, 1)
	h := s.Routes()

	first := postJSON(t, h, "/v1/events", "", `{"source":"generic","payload":{"entity_id":"a"}}`)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first: status = %d", first.Code)
	}

	second := postJSON(t, h, "/v1/events", "", `{"source":"generic","payload":{"entity_id":"b"}}`)
	if second.Code != http.StatusAccepted {
		t.Fatalf("second: status = %d, want 202 (overflow is not an error)", second.Code)
	}
	var res ingestResult
	if err := json.Unmarshal(second.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != "overflowed" {
		t.Errorf("status = %q, want overflowed", res.Status)
	}
}

func TestIngestBatch(t *testing.T) {
	s, q := testServer(t, 100)

	body := `{"events":[
		{"source":"generic","payload":{"entity_id":"a"}},
		{"source":"generic","payload":{"entity_id":"b"}},
		{"source":"syslog","payload":{"x":1}}
	]}`
	rec := postJSON(t, s.Routes(), "/v1/events/batch", "", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Accepted != 2 || resp.Rejected != 1 {
		t.Errorf("accepted=%d rejected=%d, want 2/1", resp.Accepted, resp.Rejected)
	}
	if len(resp.Results) != 3 {
		t.Errorf("results = %d, want 3", len(resp.Results))
	}
	if resp.Results[2].Status != "invalid" || resp.Results[2].Error == "" {
		t.Errorf("invalid item result = %+v", resp.Results[2])
	}
	if snap := q.Snapshot(); snap.Enqueued != 2 {
		t.Errorf("enqueued = %d, want 2", snap.Enqueued)
	}
}

func TestIngestBatchLimits(t *testing.T) {
	s, _ := testServer(t, 100)
	h := s.Routes()

	if rec := postJSON(t, h, "/v1/events/batch", "", `{"events":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch: status = %d, want 400", rec.Code)
	}

	var events []string
	for i := range 1001 {
		events = append(events, fmt.Sprintf(`{"source":"generic","payload":{"entity_id":"e%d"}}`, i))
	}
	body := `{"events":[` + joinComma(events) + `]}`
	if rec := postJSON(t, h, "/v1/events/batch", "", body); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized batch: status = %d, want 413", rec.Code)
	}
}

func joinComma(parts []string) string {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(p)
	}
	return buf.String()
}

func TestStatsEndpoint(t *testing.T) {
	s, _ := testServer(t, 100)
	h := s.Routes()

	postJSON(t, h, "/v1/events", "", `{"source":"generic","payload":{"entity_id":"a"}}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var snap queue.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Enqueued != 1 || snap.MemoryResident != 1 {
		t.Errorf("snapshot = %+v, want one resident item", snap)
	}
}

func TestRateLimitKeyedByAPIKey(t *testing.T) {
	qcfg := queue.DefaultConfig()
	qcfg.MemoryCapacity = 100
	qcfg.Workers = 1
	qcfg.OverflowPath = t.TempDir()
	qcfg.SyncWrites = false
	q, err := queue.New(qcfg, queue.NewStats())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { q.Close() })

	cfg := DefaultConfig()
	cfg.APIKeys = []string{"secret", "other"}
	cfg.RateLimitPerMinute = 2
	s, err := New(cfg, q)
	if err != nil {
		t.Fatal(err)
	}
	h := s.Routes()

	post := func(addr, key string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/events",
			bytes.NewBufferString(`{"source":"generic","payload":{"entity_id":"alice"}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", key)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// One key shares a single bucket no matter which address it calls from.
	if code := post("10.0.0.1:1111", "secret"); code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want 202", code)
	}
	if code := post("10.0.0.2:2222", "secret"); code != http.StatusAccepted {
		t.Fatalf("second request: status = %d, want 202", code)
	}
	if code := post("10.0.0.3:3333", "secret"); code != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want 429", code)
	}

	// A different key keeps its own quota.
	if code := post("10.0.0.1:1111", "other"); code != http.StatusAccepted {
		t.Errorf("other key: status = %d, want 202", code)
	}
}

func TestHealthAndMetricsBypassAuth(t *testing.T) {
	s, _ := testServer(t, 100, "secret")
	h := s.Routes()

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200 without a key", path, rec.Code)
		}
	}
}
