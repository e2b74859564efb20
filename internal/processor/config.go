// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package processor

import (
	"fmt"
	"time"
)

// Config controls the worker pool and per-item retry behavior.
type Config struct {
	// Workers is the fixed size of the pull-loop pool.
	Workers int `json:"workers" koanf:"workers" validate:"gte=1"`
	// BatchSize caps how many items a worker accumulates per micro-batch.
	BatchSize int `json:"batch_size" koanf:"batch_size" validate:"gte=1"`
	// BatchTimeout flushes a partial batch after this long.
	BatchTimeout time.Duration `json:"batch_timeout" koanf:"batch_timeout"`
	// RetryMaxAttempts bounds retries of a transient failure before the
	// item is dead-lettered. Zero means no retries.
	RetryMaxAttempts int `json:"retry_max_attempts" koanf:"retry_max_attempts" validate:"gte=0"`
	// RetryBackoffBase is the first retry delay; each retry doubles it.
	RetryBackoffBase time.Duration `json:"retry_backoff_base" koanf:"retry_backoff_base"`
	// CallTimeout bounds every external call (enrich, dedup, persist,
	// forward). A timed-out call follows the retry path.
	CallTimeout time.Duration `json:"call_timeout" koanf:"call_timeout"`
	// ShutdownGrace bounds how long in-flight batches may run after a
	// shutdown signal.
	ShutdownGrace time.Duration `json:"shutdown_grace" koanf:"shutdown_grace"`
	// EnrichRateLimit caps outbound enrichment lookups per second.
	// Zero disables the limiter.
	EnrichRateLimit float64 `json:"enrich_rate_limit" koanf:"enrich_rate_limit"`
	// DeadLetterTopic receives items that exhausted their retries.
	DeadLetterTopic string `json:"dead_letter_topic" koanf:"dead_letter_topic"`

	// Breaker guards the enrichment dependency.
	Breaker BreakerConfig `json:"breaker" koanf:"breaker"`
}

// BreakerConfig configures the circuit breaker around enrichment.
type BreakerConfig struct {
	FailureThreshold uint32        `json:"failure_threshold" koanf:"failure_threshold"`
	MaxRequests      uint32        `json:"max_requests" koanf:"max_requests"`
	Interval         time.Duration `json:"interval" koanf:"interval"`
	Timeout          time.Duration `json:"timeout" koanf:"timeout"`
}

// DefaultConfig returns the stock processor configuration.
func DefaultConfig() Config {
	return Config{
		Workers:          8,
		BatchSize:        100,
		BatchTimeout:     5 * time.Second,
		RetryMaxAttempts: 3,
		RetryBackoffBase: 100 * time.Millisecond,
		CallTimeout:      10 * time.Second,
		ShutdownGrace:    30 * time.Second,
		EnrichRateLimit:  0,
		DeadLetterTopic:  "riskpipe.deadletter",
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			MaxRequests:      1,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
		},
	}
}

// Validate checks the configuration at startup.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("processor: workers must be >= 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("processor: batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("processor: batch timeout must be positive, got %v", c.BatchTimeout)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("processor: retry max attempts must be >= 0, got %d", c.RetryMaxAttempts)
	}
	if c.RetryMaxAttempts > 0 && c.RetryBackoffBase <= 0 {
		return fmt.Errorf("processor: retry backoff base must be positive, got %v", c.RetryBackoffBase)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("processor: call timeout must be positive, got %v", c.CallTimeout)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("processor: shutdown grace must be positive, got %v", c.ShutdownGrace)
	}
	if c.EnrichRateLimit < 0 {
		return fmt.Errorf("processor: enrich rate limit must be >= 0, got %v", c.EnrichRateLimit)
	}
	if c.DeadLetterTopic == "" {
		return fmt.Errorf("processor: dead letter topic must not be empty")
	}
	return nil
}
