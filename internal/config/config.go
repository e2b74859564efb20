// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package config loads the Riskpipe configuration from layered sources:
// built-in defaults, an optional YAML file, then environment variables with
// the RISKPIPE_ prefix. Precedence: env > file > defaults. Validation runs
// once at startup; an invalid configuration is fatal.
package config

import (
	"fmt"
	"time"

	"github.com/veridianlabs/riskpipe/internal/dedup"
	"github.com/veridianlabs/riskpipe/internal/enforce"
	"github.com/veridianlabs/riskpipe/internal/engine"
	"github.com/veridianlabs/riskpipe/internal/logging"
	"github.com/veridianlabs/riskpipe/internal/processor"
	"github.com/veridianlabs/riskpipe/internal/queue"
	"github.com/veridianlabs/riskpipe/internal/server"
)

// Config is the root configuration.
type Config struct {
	Queue       queue.Config      `koanf:"queue"`
	Processor   processor.Config  `koanf:"processor"`
	Engine      engine.Config     `koanf:"engine"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Dedup       dedup.Config      `koanf:"dedup"`
	Enforcement EnforcementConfig `koanf:"enforcement"`
	Server      server.Config     `koanf:"server"`
	NATS        NATSConfig        `koanf:"nats"`
	Logging     logging.Config    `koanf:"logging"`
}

// PipelineConfig controls the decision stage.
type PipelineConfig struct {
	// CallTimeout bounds each feature-aggregation and ensemble call.
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// EnforcementConfig controls decision dispatch. The dispatcher fields are
// named here rather than embedded: the structs provider does not flatten
// embedded structs the way Unmarshal expects, which would silently drop
// the defaults during loading.
type EnforcementConfig struct {
	// Async runs handlers on their own goroutines instead of blocking
	// the decision stage.
	Async bool `koanf:"async"`

	// Timeout bounds each handler invocation.
	Timeout time.Duration `koanf:"timeout"`

	// TopicPrefix is the prefix of the decision topics
	// (<prefix>.alert, <prefix>.challenge, <prefix>.block).
	TopicPrefix string `koanf:"topic_prefix"`
}

// Dispatch returns the dispatcher settings.
func (c EnforcementConfig) Dispatch() enforce.Config {
	return enforce.Config{Async: c.Async, Timeout: c.Timeout}
}

// NATSConfig selects the message transport. Disabled means the in-process
// gochannel pub/sub, which keeps the pipeline self-contained for
// development and tests.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// ForwardTopic receives normalized events for external consumers of
	// the feature-aggregation stream.
	ForwardTopic string `koanf:"forward_topic"`

	// FeatureSubject and ScoreSubject are the request/reply subjects of
	// the feature-aggregation and model-ensemble services. They are only
	// used when NATS is enabled; otherwise local scoring stands in.
	FeatureSubject string `koanf:"feature_subject"`
	ScoreSubject   string `koanf:"score_subject"`

	// EnrichSubject is the enrichment service's request/reply subject.
	// Empty disables the enrichment stage.
	EnrichSubject string `koanf:"enrich_subject"`
}

// defaultConfig returns the built-in defaults, applied before the config
// file and environment layers.
func defaultConfig() *Config {
	return &Config{
		Queue:     queue.DefaultConfig(),
		Processor: processor.DefaultConfig(),
		Engine:    engine.DefaultConfig(),
		Pipeline: PipelineConfig{
			CallTimeout: 10 * time.Second,
		},
		Dedup: dedup.DefaultConfig(),
		Enforcement: EnforcementConfig{
			Async:       enforce.DefaultConfig().Async,
			Timeout:     enforce.DefaultConfig().Timeout,
			TopicPrefix: "riskpipe.decisions",
		},
		Server: server.DefaultConfig(),
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			ForwardTopic:   "riskpipe.normalized",
			FeatureSubject: "riskpipe.features",
			ScoreSubject:   "riskpipe.scores",
			EnrichSubject:  "riskpipe.enrich",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate checks every section. The first failure is returned; all
// failures here are fatal at startup.
func (c *Config) Validate() error {
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if err := c.Processor.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Dedup.Validate(); err != nil {
		return err
	}
	if c.Pipeline.CallTimeout <= 0 {
		return fmt.Errorf("pipeline: call timeout must be positive, got %v", c.Pipeline.CallTimeout)
	}
	if c.Enforcement.TopicPrefix == "" {
		return fmt.Errorf("enforcement: topic prefix must not be empty")
	}
	if c.Enforcement.Timeout <= 0 {
		return fmt.Errorf("enforcement: timeout must be positive, got %v", c.Enforcement.Timeout)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats: url is required when nats is enabled")
	}
	if c.NATS.ForwardTopic == "" {
		return fmt.Errorf("nats: forward topic must not be empty")
	}
	if c.NATS.Enabled && (c.NATS.FeatureSubject == "" || c.NATS.ScoreSubject == "") {
		return fmt.Errorf("nats: feature and score subjects are required when nats is enabled")
	}
	// The queue's shard count and the processor's worker count must agree:
	// each worker drains exactly one shard.
	if c.Queue.Workers != c.Processor.Workers {
		return fmt.Errorf("queue workers (%d) must equal processor workers (%d)",
			c.Queue.Workers, c.Processor.Workers)
	}
	return nil
}
