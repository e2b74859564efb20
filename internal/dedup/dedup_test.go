// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/veridianlabs/riskpipe/internal/event"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func TestSeenRecordsAndDetects(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ev := &event.NormalizedEvent{
		SourceSystem: event.SourceAzureAD,
		RawEventID:   "evt-1",
	}

	seen, err := s.Seen(ctx, ev)
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("first Seen() = true, want false")
	}

	seen, err = s.Seen(ctx, ev)
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Error("second Seen() = false, want true")
	}
}

func TestSeenKeysBySource(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := &event.NormalizedEvent{SourceSystem: event.SourceAzureAD, RawEventID: "evt-1"}
	if _, err := s.Seen(ctx, first); err != nil {
		t.Fatalf("Seen() error = %v", err)
	}

	// Same raw ID from a different source is a distinct event.
	other := &event.NormalizedEvent{SourceSystem: event.SourceCloudTrail, RawEventID: "evt-1"}
	seen, err := s.Seen(ctx, other)
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("Seen() = true for different source, want false")
	}
}

func TestSeenWithoutRawEventID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ev := &event.NormalizedEvent{SourceSystem: event.SourceGeneric}

	for range 3 {
		seen, err := s.Seen(ctx, ev)
		if err != nil {
			t.Fatalf("Seen() error = %v", err)
		}
		if seen {
			t.Error("Seen() = true for event without raw ID, want false")
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(*Config) {}},
		{name: "disabled skips checks", mutate: func(c *Config) {
			c.Enabled = false
			c.Path = ""
		}},
		{name: "missing path", mutate: func(c *Config) { c.Path = "" }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.TTL = 0 }, wantErr: true},
		{name: "negative ttl", mutate: func(c *Config) { c.TTL = -time.Hour }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
