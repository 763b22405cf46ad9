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
	"sort"
	"sync"
	"time"
)

// MemoryStorage provides in-memory run storage with LRU eviction
type MemoryStorage struct {
	runs       map[string]*Run
	maxRuns    int
	mutex      sync.RWMutex
	accessTime map[string]time.Time // Track access time for LRU
}

// NewMemoryStorage creates a new in-memory run storage
func NewMemoryStorage(maxRuns int) *MemoryStorage {
	return &MemoryStorage{
		runs:       make(map[string]*Run),
		maxRuns:    maxRuns,
		accessTime: make(map[string]time.Time),
	}
}

// Get retrieves a run by ID
func (m *MemoryStorage) Get(_ context.Context, runID string) (*Run, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	run, exists := m.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run not found: %s", runID)
	}

	// Update access time for LRU
	m.accessTime[runID] = time.Now()

	// Return a copy to prevent external modification
	return run.Clone(), nil
}

// Set stores a run with optional TTL
func (m *MemoryStorage) Set(_ context.Context, run *Run, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Check if we need to evict runs
	if _, exists := m.runs[run.ID]; !exists && len(m.runs) >= m.maxRuns {
		m.evictOldestRun()
	}

	// Store a copy to prevent external modification
	stored := run.Clone()

	// If TTL is provided, update expiry time
	if ttl > 0 {
		stored.ExpiresAt = time.Now().Add(ttl)
	}

	m.runs[run.ID] = stored
	m.accessTime[run.ID] = time.Now()

	return nil
}

// Mutate applies fn to the current stored state of a run under the
// storage lock and refreshes the TTL. fn receives a copy; nothing is
// stored when it returns an error.
func (m *MemoryStorage) Mutate(_ context.Context, runID string, ttl time.Duration, fn func(*Run) error) (*Run, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	current, exists := m.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run not found: %s", runID)
	}

	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}

	stored := updated.Clone()
	if ttl > 0 {
		stored.ExpiresAt = time.Now().Add(ttl)
	}

	m.runs[runID] = stored
	m.accessTime[runID] = time.Now()

	return updated, nil
}

// Delete removes a run
func (m *MemoryStorage) Delete(_ context.Context, runID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.runs[runID]; !exists {
		return fmt.Errorf("run not found: %s", runID)
	}

	delete(m.runs, runID)
	delete(m.accessTime, runID)

	return nil
}

// List returns all runs, newest first
func (m *MemoryStorage) List(_ context.Context) ([]*Run, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run.Clone())
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs, nil
}

// Exists checks if a run exists
func (m *MemoryStorage) Exists(_ context.Context, runID string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, exists := m.runs[runID]
	return exists, nil
}

// Cleanup removes expired runs. Runs that are still executing are kept
// regardless of age so a slow pipeline is never dropped mid-flight.
func (m *MemoryStorage) Cleanup(_ context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	var expired []string

	for runID, run := range m.runs {
		if run.ExpiresAt.Before(now) && run.Status.Terminal() {
			expired = append(expired, runID)
		}
	}

	for _, runID := range expired {
		delete(m.runs, runID)
		delete(m.accessTime, runID)
	}

	return nil
}

// Close closes the storage backend
func (m *MemoryStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Clear all data
	m.runs = make(map[string]*Run)
	m.accessTime = make(map[string]time.Time)

	return nil
}

// evictOldestRun removes the least recently used terminal run. Live runs
// are never evicted, so the map can exceed the cap until one finishes:
// the pipeline writes its run back on every stage change, which would
// recreate an evicted entry.
func (m *MemoryStorage) evictOldestRun() {
	oldest := m.findOldestTerminal()
	if oldest == "" {
		return
	}

	delete(m.runs, oldest)
	delete(m.accessTime, oldest)
}

// findOldestTerminal returns the least recently accessed terminal run ID
func (m *MemoryStorage) findOldestTerminal() string {
	var oldestID string
	var oldestTime time.Time

	for runID, accessTime := range m.accessTime {
		run, exists := m.runs[runID]
		if !exists || !run.Status.Terminal() {
			continue
		}
		if oldestID == "" || accessTime.Before(oldestTime) {
			oldestID = runID
			oldestTime = accessTime
		}
	}

	return oldestID
}
