// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package dedup suppresses reprocessing of events that were already seen,
// keyed by source system and raw event ID. Seen markers live in a BadgerDB
// store with a TTL so the set does not grow without bound.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/logging"
)

// Config controls the seen-store.
type Config struct {
	// Enabled turns duplicate suppression on. Disabled skips the stage
	// entirely.
	Enabled bool `json:"enabled" koanf:"enabled"`

	// Path is the BadgerDB directory for seen markers.
	Path string `json:"path" koanf:"path"`

	// TTL is how long a seen marker survives. Duplicates arriving later
	// than this are processed again.
	TTL time.Duration `json:"ttl" koanf:"ttl"`

	// SyncWrites forces fsync on every marker write.
	SyncWrites bool `json:"sync_writes" koanf:"sync_writes"`
}

// DefaultConfig returns dedup defaults: enabled, 24h marker lifetime.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Path:       "/data/riskpipe/dedup",
		TTL:        24 * time.Hour,
		SyncWrites: false,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Path == "" {
		return fmt.Errorf("dedup: path is required when enabled")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("dedup: ttl must be positive, got %v", c.TTL)
	}
	return nil
}

// Store is a TTL-bounded set of processed event identities. It implements
// the stream processor's DuplicateChecker.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens or creates the store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dedup store at %s: %w", cfg.Path, err)
	}
	return &Store{db: db, ttl: cfg.TTL}, nil
}

// Seen reports whether the event's identity was recorded before and, if
// not, records it. Events without a raw event ID cannot be keyed and are
// never treated as duplicates.
func (s *Store) Seen(_ context.Context, ev *event.NormalizedEvent) (bool, error) {
	if ev.RawEventID == "" {
		return false, nil
	}
	key := []byte(string(ev.SourceSystem) + "/" + ev.RawEventID)

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	entry := badger.NewEntry(key, nil).WithTTL(s.ttl)
	if err := txn.SetEntry(entry); err != nil {
		return false, fmt.Errorf("dedup record: %w", err)
	}
	if err := txn.Commit(); err != nil {
		// A concurrent worker won the race on the same key; treat the
		// event as a duplicate rather than failing it.
		if errors.Is(err, badger.ErrConflict) {
			return true, nil
		}
		return false, fmt.Errorf("dedup commit: %w", err)
	}
	return false, nil
}

// RunGC runs Badger value-log garbage collection until ctx is canceled.
// It implements suture.Service.
func (s *Store) RunGC(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil &&
				!errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("Dedup store GC failed")
			}
		}
	}
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}
