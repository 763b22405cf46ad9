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

// Package task runs the lead generation pipeline asynchronously. A
// submitted request becomes a run that moves through researching,
// analyzing, and exporting; stage failures degrade the run with warnings
// while cancellation and infrastructure errors end it. Progress is
// observable through run snapshots and a per-run event stream.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Fos938/lead-generator/internal/export"
	"github.com/Fos938/lead-generator/internal/history"
	"github.com/Fos938/lead-generator/internal/lead"
	"github.com/Fos938/lead-generator/internal/pipeline"
	"github.com/Fos938/lead-generator/internal/store"
)

// Recorder persists a summary of a finished run. A nil Recorder disables
// history.
type Recorder interface {
	Record(ctx context.Context, summary history.Summary) error
}

// Progress milestones reported as each stage starts
const (
	progressResearching = 10
	progressAnalyzing   = 45
	progressExporting   = 80
	progressComplete    = 100
)

// Finished streams are kept around for replay, then swept
const (
	streamMaxAge    = time.Hour
	janitorInterval = 10 * time.Minute
)

// Runner executes pipeline runs in the background
type Runner struct {
	generator *pipeline.Generator
	registry  *store.Registry
	writer    *export.Writer
	recorder  Recorder
	streams   *StreamManager
	logger    *zap.Logger

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRunner creates a runner wiring the pipeline stages to the run
// registry and export writer. recorder may be nil when history is
// disabled.
func NewRunner(generator *pipeline.Generator, registry *store.Registry, writer *export.Writer, recorder Recorder, logger *zap.Logger) *Runner {
	r := &Runner{
		generator: generator,
		registry:  registry,
		writer:    writer,
		recorder:  recorder,
		streams:   NewStreamManager(),
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
		stopCh:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.janitor()

	return r
}

// Start registers a new run and launches the pipeline in the background.
// The returned snapshot is in the pending state.
func (r *Runner) Start(ctx context.Context, params store.Params) (*store.Run, error) {
	run, err := r.registry.Create(ctx, params)
	if err != nil {
		return nil, err
	}

	// The pipeline outlives the request that started it
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.cancels[run.ID] = cancel
	r.mu.Unlock()

	stream := r.streams.CreateStream(run.ID)

	r.wg.Add(1)
	// The pipeline works on its own copy of the run
	go r.execute(runCtx, run.Clone(), stream)

	return run, nil
}

// Cancel requests cancellation of a live run. It reports whether a live
// run with that ID existed.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()

	if ok {
		cancel()
		r.logger.Info("Run cancellation requested", zap.String("run_id", runID))
	}
	return ok
}

// Subscribe returns the events emitted so far plus a live channel for the
// rest. The channel is closed once the run reaches a terminal state.
func (r *Runner) Subscribe(runID string) ([]Event, chan Event, bool) {
	stream, ok := r.streams.GetStream(runID)
	if !ok {
		return nil, nil, false
	}
	replay, ch := stream.Subscribe()
	return replay, ch, true
}

// Unsubscribe releases a subscriber channel obtained from Subscribe
func (r *Runner) Unsubscribe(runID string, ch chan Event) {
	if stream, ok := r.streams.GetStream(runID); ok {
		stream.Unsubscribe(ch)
	}
}

// Events returns a snapshot of the events emitted for a run
func (r *Runner) Events(runID string) ([]Event, bool) {
	stream, ok := r.streams.GetStream(runID)
	if !ok {
		return nil, false
	}
	return stream.GetEvents(), true
}

// Close cancels all live runs and waits for their goroutines to finish.
// Safe to call more than once.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		for _, cancel := range r.cancels {
			cancel()
		}
		r.mu.Unlock()

		close(r.stopCh)
		r.wg.Wait()
		r.streams.CloseAll()
	})
}

func (r *Runner) execute(ctx context.Context, run *store.Run, stream *EventStream) {
	defer r.wg.Done()
	defer r.release(run.ID)

	// Research
	if !r.transition(ctx, run, store.StatusResearching, stream, "Researching businesses...", progressResearching) {
		return
	}
	research := r.generator.Research(ctx, run.Params.Industry, run.Params.Location, run.Params.NumLeads)
	if r.interrupted(ctx, run, stream) {
		return
	}
	run.Leads = research.Leads
	r.recordStage(run, stream, store.StatusResearching, research)

	// Qualification
	if !r.transition(ctx, run, store.StatusAnalyzing, stream, "Analyzing and scoring leads...", progressAnalyzing) {
		return
	}
	qualified := r.generator.Qualify(ctx, run.Leads, run.Params.Criteria)
	if r.interrupted(ctx, run, stream) {
		return
	}
	run.Qualified = qualified.Leads
	r.recordStage(run, stream, store.StatusAnalyzing, qualified)

	// Export
	if !r.transition(ctx, run, store.StatusExporting, stream, "Preparing export...", progressExporting) {
		return
	}
	result, err := r.writer.Write(ctx, run.Qualified)
	if err != nil {
		if r.interrupted(ctx, run, stream) {
			return
		}
		// A failed export degrades the run rather than failing it; the
		// qualified leads are still viewable.
		warning := fmt.Sprintf("Error preparing spreadsheet: %v", err)
		run.Warnings = append(run.Warnings, warning)
		stream.EmitWarning(store.StatusExporting, warning)
		r.logger.Warn("Export failed", zap.String("run_id", run.ID), zap.Error(err))
	} else {
		run.Export = &store.ExportInfo{
			Filename: result.Filename,
			Path:     result.Path,
			Size:     result.Size,
		}
	}

	r.succeed(run, stream, research, qualified)
}

// transition moves the run to the next stage unless it was canceled first
func (r *Runner) transition(ctx context.Context, run *store.Run, status store.Status, stream *EventStream, message string, progress int) bool {
	if ctx.Err() != nil {
		r.cancelRun(run, stream)
		return false
	}

	run.Status = status
	if err := r.storeRun(run); err != nil {
		r.failRun(run, stream, err)
		return false
	}

	stream.EmitProgress(status, message, progress)
	return true
}

// interrupted checks for cancellation after a stage and finalizes the run
// if so
func (r *Runner) interrupted(ctx context.Context, run *store.Run, stream *EventStream) bool {
	if ctx.Err() == nil {
		return false
	}
	r.cancelRun(run, stream)
	return true
}

func (r *Runner) recordStage(run *store.Run, stream *EventStream, stage store.Status, result pipeline.StageResult) {
	if result.Warning != "" {
		run.Warnings = append(run.Warnings, result.Warning)
		stream.EmitWarning(stage, result.Warning)
	}
	if err := r.storeRun(run); err != nil {
		r.logger.Warn("Failed to update run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// storeRun merges the pipeline's view of a run into current registry
// state. Emails are written concurrently by the outreach handlers and
// are left as stored.
func (r *Runner) storeRun(run *store.Run) error {
	_, err := r.registry.Mutate(context.Background(), run.ID, func(cur *store.Run) error {
		cur.Status = run.Status
		cur.Warnings = run.Warnings
		cur.Error = run.Error
		cur.Leads = run.Leads
		cur.Qualified = run.Qualified
		cur.Export = run.Export
		cur.CompletedAt = run.CompletedAt
		return nil
	})
	return err
}

func (r *Runner) cancelRun(run *store.Run, stream *EventStream) {
	run.Status = store.StatusCanceled
	now := time.Now()
	run.CompletedAt = &now
	if err := r.storeRun(run); err != nil {
		r.logger.Warn("Failed to update canceled run", zap.String("run_id", run.ID), zap.Error(err))
	}

	stream.Emit(EventTypeCanceled, store.StatusCanceled, "Run canceled", 0, nil)
	stream.Close()
	r.logger.Info("Run canceled", zap.String("run_id", run.ID))
}

func (r *Runner) failRun(run *store.Run, stream *EventStream, err error) {
	run.Status = store.StatusFailed
	run.Error = err.Error()
	now := time.Now()
	run.CompletedAt = &now
	if updateErr := r.storeRun(run); updateErr != nil {
		r.logger.Warn("Failed to update failed run", zap.String("run_id", run.ID), zap.Error(updateErr))
	}

	stream.Emit(EventTypeError, store.StatusFailed, err.Error(), 0, nil)
	stream.Close()
	r.logger.Error("Run failed", zap.String("run_id", run.ID), zap.Error(err))
}

func (r *Runner) succeed(run *store.Run, stream *EventStream, research, qualified pipeline.StageResult) {
	run.Status = store.StatusSucceeded
	now := time.Now()
	run.CompletedAt = &now
	if err := r.storeRun(run); err != nil {
		r.logger.Warn("Failed to update run", zap.String("run_id", run.ID), zap.Error(err))
	}

	data := map[string]interface{}{
		"leads":     len(run.Leads),
		"qualified": len(run.Qualified),
	}
	if run.Export != nil {
		data["export"] = run.Export.Filename
	}
	stream.Emit(EventTypeComplete, store.StatusSucceeded, "Lead generation complete", progressComplete, data)
	stream.Close()

	r.logger.Info("Run complete",
		zap.String("run_id", run.ID),
		zap.Int("qualified", len(run.Qualified)),
		zap.Bool("research_fallback", research.Fallback),
		zap.Bool("analysis_fallback", qualified.Fallback))

	r.record(run, research, qualified)
}

func (r *Runner) record(run *store.Run, research, qualified pipeline.StageResult) {
	if r.recorder == nil {
		return
	}

	tallies := lead.CountByClassification(run.Qualified)
	summary := history.Summary{
		RunID:            run.ID,
		Industry:         run.Params.Industry,
		Location:         run.Params.Location,
		RequestedLeads:   run.Params.NumLeads,
		ReturnedLeads:    len(run.Leads),
		QualifiedLeads:   len(run.Qualified),
		HighValue:        tallies[lead.ClassificationHigh],
		MediumValue:      tallies[lead.ClassificationMedium],
		LowValue:         tallies[lead.ClassificationLow],
		ResearchFallback: research.Fallback,
		AnalysisFallback: qualified.Fallback,
		CreatedAt:        run.CreatedAt,
		CompletedAt:      *run.CompletedAt,
	}
	if run.Export != nil {
		summary.ExportFilename = run.Export.Filename
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.recorder.Record(ctx, summary); err != nil {
		r.logger.Warn("Failed to record run history", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (r *Runner) release(runID string) {
	r.mu.Lock()
	if cancel, ok := r.cancels[runID]; ok {
		cancel()
		delete(r.cancels, runID)
	}
	r.mu.Unlock()
}

func (r *Runner) janitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.streams.CleanupOldStreams(streamMaxAge)
		case <-r.stopCh:
			return
		}
	}
}
