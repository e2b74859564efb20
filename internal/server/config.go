// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

package server

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config controls the ingestion HTTP surface.
type Config struct {
	Host string `json:"host" koanf:"host"`
	Port int    `json:"port" koanf:"port" validate:"gte=1,lte=65535"`

	// APIKeys are the accepted values of the X-API-Key header. An empty
	// list disables authentication (development only).
	APIKeys []string `json:"api_keys" koanf:"api_keys"`

	// RateLimitPerMinute caps ingest requests per client IP.
	RateLimitPerMinute int `json:"rate_limit_per_minute" koanf:"rate_limit_per_minute"`

	// MaxBatchSize caps the events accepted in one batch request.
	MaxBatchSize int `json:"max_batch_size" koanf:"max_batch_size"`

	AllowedOrigins []string `json:"allowed_origins" koanf:"allowed_origins"`

	ReadTimeout     time.Duration `json:"read_timeout" koanf:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" koanf:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" koanf:"shutdown_timeout"`
}

// DefaultConfig returns the stock server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		RateLimitPerMinute: 10000,
		MaxBatchSize:       1000,
		AllowedOrigins:     []string{"*"},
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the configuration at startup.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Port)
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("server: rate limit must be >= 1, got %d", c.RateLimitPerMinute)
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("server: max batch size must be >= 1, got %d", c.MaxBatchSize)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("server: timeouts must be positive")
	}
	return nil
}
