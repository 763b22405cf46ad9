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

package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fos938/lead-generator/internal/store"
)

// EventType represents different kinds of run progress events
type EventType string

const (
	// EventTypeProgress represents a stage transition
	EventTypeProgress EventType = "progress"
	// EventTypeWarning represents a degraded stage (fallback data in use)
	EventTypeWarning EventType = "warning"
	// EventTypeComplete represents successful completion
	EventTypeComplete EventType = "complete"
	// EventTypeError represents a failed run
	EventTypeError EventType = "error"
	// EventTypeCanceled represents a canceled run
	EventTypeCanceled EventType = "canceled"
)

// Event represents a run progress event. Stage is the run status the event
// was emitted under.
type Event struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Type      EventType              `json:"type"`
	Stage     store.Status           `json:"stage"`
	Message   string                 `json:"message"`
	Progress  int                    `json:"progress"` // 0-100
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ToSSEMessage converts an event to Server-Sent Events format
func (e Event) ToSSEMessage() string {
	data, _ := json.Marshal(e)
	return "data: " + string(data) + "\n\n"
}

// EventStream records one run's events and fans them out to subscribers.
// Slow subscribers drop events rather than stall the run; the recorded
// slice stays complete for replay.
type EventStream struct {
	runID  string
	mutex  sync.RWMutex
	events []Event
	subs   map[chan Event]struct{}
	closed bool
}

// NewEventStream creates an event stream for a run
func NewEventStream(runID string) *EventStream {
	return &EventStream{
		runID: runID,
		subs:  make(map[chan Event]struct{}),
	}
}

// Subscribe returns the events emitted so far plus a channel carrying
// subsequent ones. The channel is closed when the stream closes. Replay and
// registration happen atomically, so no event is missed in between.
func (es *EventStream) Subscribe() ([]Event, chan Event) {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	replay := make([]Event, len(es.events))
	copy(replay, es.events)

	ch := make(chan Event, 16)
	if es.closed {
		close(ch)
		return replay, ch
	}

	es.subs[ch] = struct{}{}
	return replay, ch
}

// Unsubscribe removes a subscriber channel and closes it
func (es *EventStream) Unsubscribe(ch chan Event) {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	if _, ok := es.subs[ch]; ok {
		delete(es.subs, ch)
		close(ch)
	}
}

// Emit records an event and notifies subscribers
func (es *EventStream) Emit(eventType EventType, stage store.Status, message string, progress int, data map[string]interface{}) {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	if es.closed {
		return
	}

	event := Event{
		ID:        "event_" + uuid.NewString(),
		RunID:     es.runID,
		Type:      eventType,
		Stage:     stage,
		Message:   message,
		Progress:  progress,
		Timestamp: time.Now(),
		Data:      data,
	}

	es.events = append(es.events, event)

	for ch := range es.subs {
		select {
		case ch <- event:
		default:
			// drop if slow
		}
	}
}

// EmitProgress emits a stage transition event
func (es *EventStream) EmitProgress(stage store.Status, message string, progress int) {
	es.Emit(EventTypeProgress, stage, message, progress, nil)
}

// EmitWarning emits a degradation warning for a stage
func (es *EventStream) EmitWarning(stage store.Status, message string) {
	es.Emit(EventTypeWarning, stage, message, 0, nil)
}

// Close closes the stream and all subscriber channels
func (es *EventStream) Close() {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	if es.closed {
		return
	}
	es.closed = true

	for ch := range es.subs {
		close(ch)
	}
	es.subs = nil
}

// GetEvents returns all events recorded so far
func (es *EventStream) GetEvents() []Event {
	es.mutex.RLock()
	defer es.mutex.RUnlock()

	events := make([]Event, len(es.events))
	copy(events, es.events)
	return events
}

// StreamManager manages the event streams of live and recently finished
// runs
type StreamManager struct {
	streams map[string]*EventStream
	mutex   sync.RWMutex
}

// NewStreamManager creates a new stream manager
func NewStreamManager() *StreamManager {
	return &StreamManager{
		streams: make(map[string]*EventStream),
	}
}

// CreateStream creates a new event stream for a run
func (sm *StreamManager) CreateStream(runID string) *EventStream {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	stream := NewEventStream(runID)
	sm.streams[runID] = stream
	return stream
}

// GetStream retrieves an existing event stream
func (sm *StreamManager) GetStream(runID string) (*EventStream, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	stream, exists := sm.streams[runID]
	return stream, exists
}

// CloseStream closes and removes an event stream
func (sm *StreamManager) CloseStream(runID string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if stream, exists := sm.streams[runID]; exists {
		stream.Close()
		delete(sm.streams, runID)
	}
}

// CloseAll closes every stream
func (sm *StreamManager) CloseAll() {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for runID, stream := range sm.streams {
		stream.Close()
		delete(sm.streams, runID)
	}
}

// CleanupOldStreams removes streams whose first event is older than maxAge
func (sm *StreamManager) CleanupOldStreams(maxAge time.Duration) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for runID, stream := range sm.streams {
		events := stream.GetEvents()
		if len(events) > 0 && events[0].Timestamp.Before(cutoff) {
			stream.Close()
			delete(sm.streams, runID)
		}
	}
}
