// Copyright 2025 AI Lead Generation System Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for the run registry
type Config struct {
	MaxRuns         int           `json:"max_runs"`
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// DefaultConfig returns default registry configuration
func DefaultConfig() Config {
	return Config{
		MaxRuns:         100,
		TTL:             time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}

// Storage defines the interface for run storage backends
type Storage interface {
	// Get retrieves a run by ID
	Get(ctx context.Context, runID string) (*Run, error)
	// Set stores a run with optional TTL
	Set(ctx context.Context, run *Run, ttl time.Duration) error
	// Mutate applies fn to the current state of a run under the storage lock
	Mutate(ctx context.Context, runID string, ttl time.Duration, fn func(*Run) error) (*Run, error)
	// Delete removes a run
	Delete(ctx context.Context, runID string) error
	// List returns all runs, newest first
	List(ctx context.Context) ([]*Run, error)
	// Exists checks if a run exists
	Exists(ctx context.Context, runID string) (bool, error)
	// Cleanup removes expired terminal runs
	Cleanup(ctx context.Context) error
	// Close closes the storage backend
	Close() error
}

// Registry handles run lifecycle and storage operations
type Registry struct {
	storage Storage
	config  Config
	logger  *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRegistry creates a run registry backed by in-memory storage
func NewRegistry(config Config, logger *zap.Logger) *Registry {
	registry := &Registry{
		storage: NewMemoryStorage(config.MaxRuns),
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	if config.CleanupInterval > 0 {
		registry.wg.Add(1)
		go registry.cleanupLoop()
	}

	return registry
}

// Create registers a new pending run for the given parameters
func (r *Registry) Create(ctx context.Context, params Params) (*Run, error) {
	now := time.Now()

	run := &Run{
		ID:        NewRunID(),
		Params:    params,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(r.config.TTL),
	}

	if err := r.storage.Set(ctx, run, r.config.TTL); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	r.logger.Info("Created new run",
		zap.String("run_id", run.ID),
		zap.String("industry", params.Industry),
		zap.String("location", params.Location),
		zap.Int("num_leads", params.NumLeads))

	return run, nil
}

// Get retrieves a run by ID
func (r *Registry) Get(ctx context.Context, runID string) (*Run, error) {
	run, err := r.storage.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// Mutate atomically applies fn to the current state of a run and
// refreshes its TTL. fn runs under the storage lock and receives the
// latest stored state, never a stale snapshot.
func (r *Registry) Mutate(ctx context.Context, runID string, fn func(*Run) error) (*Run, error) {
	run, err := r.storage.Mutate(ctx, runID, r.config.TTL, func(run *Run) error {
		if err := fn(run); err != nil {
			return err
		}
		run.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}

	return run, nil
}

// List returns all retained runs, newest first
func (r *Registry) List(ctx context.Context) ([]*Run, error) {
	runs, err := r.storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// Delete removes a run
func (r *Registry) Delete(ctx context.Context, runID string) error {
	if err := r.storage.Delete(ctx, runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	r.logger.Info("Deleted run", zap.String("run_id", runID))
	return nil
}

// cleanupLoop runs periodic cleanup of expired runs
func (r *Registry) cleanupLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := r.storage.Cleanup(ctx); err != nil {
				r.logger.Error("Failed to cleanup expired runs", zap.Error(err))
			}
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// Close gracefully closes the registry
func (r *Registry) Close() error {
	close(r.stopCh)
	r.wg.Wait()

	if err := r.storage.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	return nil
}

// Stats returns registry statistics for health reporting
func (r *Registry) Stats(ctx context.Context) (map[string]interface{}, error) {
	runs, err := r.storage.List(ctx)
	if err != nil {
		return nil, err
	}

	active := 0
	for _, run := range runs {
		if !run.Status.Terminal() {
			active++
		}
	}

	return map[string]interface{}{
		"total_runs":  len(runs),
		"active_runs": active,
		"max_runs":    r.config.MaxRuns,
		"ttl":         r.config.TTL.String(),
	}, nil
}
