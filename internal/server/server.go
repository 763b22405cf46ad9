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

// Package server hosts the lead generation dashboard API: starting and
// canceling runs, polling their state, streaming progress events,
// generating outreach emails, and downloading exports. Runs are addressed
// by ID; the registry TTL bounds how long a finished run stays reachable.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Fos938/lead-generator/internal/config"
	"github.com/Fos938/lead-generator/internal/export"
	"github.com/Fos938/lead-generator/internal/health"
	"github.com/Fos938/lead-generator/internal/history"
	"github.com/Fos938/lead-generator/internal/lead"
	"github.com/Fos938/lead-generator/internal/pipeline"
	"github.com/Fos938/lead-generator/internal/store"
	"github.com/Fos938/lead-generator/internal/task"
)

// StartRunRequest carries the search form. Empty fields fall back to the
// configured defaults, mirroring the dashboard's prefilled form.
type StartRunRequest struct {
	Industry string `json:"industry" form:"industry"`
	Location string `json:"location" form:"location"`
	Criteria string `json:"criteria" form:"criteria"`
	NumLeads int    `json:"num_leads" form:"num_leads"`
}

// Metrics is the dashboard's score breakdown for one run
type Metrics struct {
	TotalLeads     int `json:"total_leads"`
	QualifiedLeads int `json:"qualified_leads"`
	HighValue      int `json:"high_value"`
	MediumValue    int `json:"medium_value"`
	LowValue       int `json:"low_value"`
}

// RunResponse is a run snapshot plus its metrics
type RunResponse struct {
	*store.Run
	Metrics Metrics `json:"metrics"`
}

// EmailResponse is the result of one outreach generation. Error carries
// the failure while Email still holds the fallback template text.
type EmailResponse struct {
	RunID string `json:"run_id"`
	Index int    `json:"index"`
	Email string `json:"email"`
	Error string `json:"error,omitempty"`
}

// Server is the dashboard HTTP service
type Server struct {
	config    *config.Config
	logger    *zap.Logger
	runner    *task.Runner
	registry  *store.Registry
	generator *pipeline.Generator
	history   *history.Store
	health    *health.Manager

	httpServer *http.Server
}

// New creates the dashboard server. historyStore may be nil when history
// is disabled; the history route is then not registered.
func New(cfg *config.Config, runner *task.Runner, registry *store.Registry, generator *pipeline.Generator, historyStore *history.Store, healthManager *health.Manager, logger *zap.Logger) *Server {
	return &Server{
		config:    cfg,
		logger:    logger,
		runner:    runner,
		registry:  registry,
		generator: generator,
		history:   historyStore,
		health:    healthManager,
	}
}

// Router builds the gin route table
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/", s.handleIndex)
	router.GET("/health", s.handleHealth)

	router.POST("/runs", s.handleStartRun)
	router.GET("/runs", s.handleListRuns)
	router.GET("/runs/:id", s.handleGetRun)
	router.POST("/runs/:id/cancel", s.handleCancelRun)
	router.DELETE("/runs/:id", s.handleDeleteRun)
	router.GET("/runs/:id/events", s.handleRunEvents)
	router.POST("/runs/:id/emails", s.handleGenerateAllEmails)
	router.POST("/runs/:id/emails/:index", s.handleGenerateEmail)
	router.GET("/runs/:id/export", s.handleDownloadExport)

	if s.history != nil {
		router.GET("/history", s.handleHistory)
	}

	return router
}

// Start runs the HTTP server until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting dashboard server", zap.String("addr", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleIndex describes the service and the prefilled form defaults
func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "lead-generator",
		"defaults": gin.H{
			"industry":  s.config.Search.Industry,
			"location":  s.config.Search.Location,
			"criteria":  s.config.Search.Criteria,
			"num_leads": s.config.Search.NumLeads,
			"min_leads": pipeline.MinLeads,
			"max_leads": pipeline.MaxLeads,
		},
		"history_enabled": s.history != nil,
	})
}

// handleHealth returns the health status
func (s *Server) handleHealth(c *gin.Context) {
	s.health.HTTPHandler().ServeHTTP(c.Writer, c.Request)
}

// handleStartRun launches a new pipeline run
func (s *Server) handleStartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	params := s.applyDefaults(req)

	run, err := s.runner.Start(c.Request.Context(), params)
	if err != nil {
		s.logger.Error("Failed to start run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start run"})
		return
	}

	s.logger.Info("Run started",
		zap.String("run_id", run.ID),
		zap.String("industry", params.Industry),
		zap.String("location", params.Location),
		zap.Int("num_leads", params.NumLeads))

	c.JSON(http.StatusAccepted, runResponse(run))
}

// applyDefaults fills empty form fields from config and clamps the lead
// count to the supported range
func (s *Server) applyDefaults(req StartRunRequest) store.Params {
	params := store.Params{
		Industry: req.Industry,
		Location: req.Location,
		Criteria: req.Criteria,
		NumLeads: req.NumLeads,
	}

	if params.Industry == "" {
		params.Industry = s.config.Search.Industry
	}
	if params.Location == "" {
		params.Location = s.config.Search.Location
	}
	if params.Criteria == "" {
		params.Criteria = s.config.Search.Criteria
	}
	if params.NumLeads == 0 {
		params.NumLeads = s.config.Search.NumLeads
	}
	params.NumLeads = pipeline.ClampLeadCount(params.NumLeads)

	return params
}

// handleListRuns returns all known runs, newest first
func (s *Server) handleListRuns(c *gin.Context) {
	runs, err := s.registry.List(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	responses := make([]RunResponse, len(runs))
	for i, run := range runs {
		responses[i] = runResponse(run)
	}

	c.JSON(http.StatusOK, responses)
}

// handleGetRun returns one run snapshot with its metrics
func (s *Server) handleGetRun(c *gin.Context) {
	id := c.Param("id")

	run, err := s.registry.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, runResponse(run))
}

// handleCancelRun requests cancellation of a live run
func (s *Server) handleCancelRun(c *gin.Context) {
	id := c.Param("id")

	if s.runner.Cancel(id) {
		c.JSON(http.StatusAccepted, gin.H{"message": "Cancellation requested"})
		return
	}

	// Not live: distinguish a finished run from an unknown one
	run, err := s.registry.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Run already %s", run.Status)})
}

// handleDeleteRun removes a finished run from the registry
func (s *Server) handleDeleteRun(c *gin.Context) {
	id := c.Param("id")

	run, err := s.registry.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	// A live run's next stage write would recreate the entry; it has to
	// be canceled before it can be removed
	if !run.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "Run is still active, cancel it first"})
		return
	}

	if err := s.registry.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Run deleted"})
}

// handleRunEvents streams run progress as server-sent events: the
// recorded events replay first, then live ones until the run finishes or
// the client disconnects
func (s *Server) handleRunEvents(c *gin.Context) {
	id := c.Param("id")

	replay, ch, ok := s.runner.Subscribe(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	defer s.runner.Unsubscribe(id, ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for _, event := range replay {
		if _, err := c.Writer.WriteString(event.ToSSEMessage()); err != nil {
			return
		}
	}
	c.Writer.Flush()

	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			if _, err := c.Writer.WriteString(event.ToSSEMessage()); err != nil {
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleGenerateEmail generates an outreach email for one qualified lead.
// Failures still return the fallback template text with the error noted.
func (s *Server) handleGenerateEmail(c *gin.Context) {
	id := c.Param("id")

	run, err := s.registry.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lead index"})
		return
	}
	if index < 0 || index >= len(run.Qualified) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lead not found"})
		return
	}

	email, genErr := s.generator.Outreach(c.Request.Context(), run.Qualified[index])

	// The run may have advanced during the model call; merge the email
	// into its current state rather than writing back the snapshot
	if _, err := s.registry.Mutate(c.Request.Context(), id, func(run *store.Run) error {
		if run.Emails == nil {
			run.Emails = make(map[int]string)
		}
		run.Emails[index] = email
		return nil
	}); err != nil {
		s.logger.Warn("Failed to store email on run", zap.String("run_id", id), zap.Error(err))
	}

	resp := EmailResponse{RunID: id, Index: index, Email: email}
	if genErr != nil {
		resp.Error = genErr.Error()
	}

	c.JSON(http.StatusOK, resp)
}

// handleGenerateAllEmails generates outreach emails for every qualified
// lead in one pass
func (s *Server) handleGenerateAllEmails(c *gin.Context) {
	id := c.Param("id")

	run, err := s.registry.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	if len(run.Qualified) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No qualified leads to email"})
		return
	}

	emails, errs := s.generator.OutreachAll(c.Request.Context(), run.Qualified)

	failed := 0
	for _, genErr := range errs {
		if genErr != nil {
			failed++
		}
	}

	// Same merge discipline as the single-email handler
	if _, err := s.registry.Mutate(c.Request.Context(), id, func(run *store.Run) error {
		if run.Emails == nil {
			run.Emails = make(map[int]string, len(emails))
		}
		for i, email := range emails {
			run.Emails[i] = email
		}
		return nil
	}); err != nil {
		s.logger.Warn("Failed to store emails on run", zap.String("run_id", id), zap.Error(err))
	}

	s.logger.Info("Bulk outreach complete",
		zap.String("run_id", id),
		zap.Int("emails", len(emails)),
		zap.Int("failed", failed))

	c.JSON(http.StatusOK, gin.H{
		"run_id": id,
		"emails": emails,
		"failed": failed,
	})
}

// handleDownloadExport serves the run's spreadsheet as an attachment
func (s *Server) handleDownloadExport(c *gin.Context) {
	id := c.Param("id")

	run, err := s.registry.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	if run.Export == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No export available for this run"})
		return
	}

	c.Header("Content-Type", export.ContentType)
	c.FileAttachment(run.Export.Path, run.Export.Filename)
}

// handleHistory returns summaries of recently completed runs
func (s *Server) handleHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	summaries, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to load run history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}

	c.JSON(http.StatusOK, summaries)
}

// runResponse pairs a run snapshot with its classification breakdown
func runResponse(run *store.Run) RunResponse {
	tallies := lead.CountByClassification(run.Qualified)
	return RunResponse{
		Run: run,
		Metrics: Metrics{
			TotalLeads:     len(run.Leads),
			QualifiedLeads: len(run.Qualified),
			HighValue:      tallies[lead.ClassificationHigh],
			MediumValue:    tallies[lead.ClassificationMedium],
			LowValue:       tallies[lead.ClassificationLow],
		},
	}
}
