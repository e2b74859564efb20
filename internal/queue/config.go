// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package queue implements the hybrid ingestion queue: a bounded in-memory
// buffer with a durable BadgerDB overflow log. The queue absorbs bursts,
// signals backpressure to producers, and preserves per-partition arrival
// order across the memory/disk boundary.
package queue

import "time"

// Config holds ingestion queue configuration.
type Config struct {
	// MemoryCapacity is the maximum number of items held in memory across
	// all partitions. Beyond this bound new items spill to disk.
	MemoryCapacity int `json:"memory_capacity" koanf:"memory_capacity"`

	// Workers is the number of dequeue shards. Each worker of the stream
	// processor drains exactly one shard, so a partition is only ever
	// drained by one worker.
	Workers int `json:"workers" koanf:"workers"`

	// OverflowPath is the directory for the BadgerDB overflow buffer.
	// Must be on a durable filesystem; the buffer survives restarts.
	OverflowPath string `json:"overflow_path" koanf:"overflow_path"`

	// SyncWrites forces fsync on every overflow write.
	// Disable for throughput at the cost of durability on power loss.
	SyncWrites bool `json:"sync_writes" koanf:"sync_writes"`

	// GCInterval is the time between Badger value log GC runs.
	GCInterval time.Duration `json:"gc_interval" koanf:"gc_interval"`

	// GCRatio is the ratio for value log garbage collection.
	GCRatio float64 `json:"gc_ratio" koanf:"gc_ratio"`
}

// DefaultConfig returns queue defaults matching the documented design:
// 100k items in memory, overflow to disk rather than drop.
func DefaultConfig() Config {
	return Config{
		MemoryCapacity: 100_000,
		Workers:        8,
		OverflowPath:   "/data/riskpipe/overflow",
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCRatio:        0.5,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MemoryCapacity < 1 {
		return &ConfigError{Field: "MemoryCapacity", Message: "must be at least 1"}
	}
	if c.Workers < 1 {
		return &ConfigError{Field: "Workers", Message: "must be at least 1"}
	}
	if c.OverflowPath == "" {
		return &ConfigError{Field: "OverflowPath", Message: "overflow path is required"}
	}
	if c.GCInterval < time.Second {
		return &ConfigError{Field: "GCInterval", Message: "must be at least 1 second"}
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return &ConfigError{Field: "GCRatio", Message: "must be in (0,1)"}
	}
	return nil
}

// ConfigError represents a queue configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "queue config error: " + e.Field + ": " + e.Message
}
