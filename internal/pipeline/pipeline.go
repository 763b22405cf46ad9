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

// Package pipeline runs the three model stages against an injected
// inference client. A stage failure never aborts a run: research falls back
// to the sample records, qualification falls back to constant scoring, and
// outreach falls back to a fixed template, each carrying a warning the
// caller can surface.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Fos938/lead-generator/internal/extract"
	"github.com/Fos938/lead-generator/internal/inference"
	"github.com/Fos938/lead-generator/internal/lead"
	"github.com/Fos938/lead-generator/internal/prompt"
)

// Lead count bounds of the search form
const (
	MinLeads     = 3
	MaxLeads     = 10
	DefaultLeads = 3
)

// EmailFailureText replaces an outreach email the model could not produce
const EmailFailureText = "Error generating personalized email template."

const defaultOutreachConcurrency = 4

// Options tunes the completion calls per stage. Qualification shares the
// research settings.
type Options struct {
	ResearchTemperature float32
	ResearchMaxTokens   int
	OutreachTemperature float32
	OutreachMaxTokens   int
	Profile             prompt.Profile
	OutreachConcurrency int
}

// DefaultOptions returns the stage settings the dashboard shipped with
func DefaultOptions() Options {
	return Options{
		ResearchTemperature: 0.2,
		ResearchMaxTokens:   2000,
		OutreachTemperature: 0.7,
		OutreachMaxTokens:   500,
		OutreachConcurrency: defaultOutreachConcurrency,
	}
}

// StageResult carries one stage's lead collection plus its degradation
// details. Warning is empty when the stage ran clean.
type StageResult struct {
	Leads    []lead.Lead `json:"leads"`
	Fallback bool        `json:"fallback"`
	Warning  string      `json:"warning,omitempty"`
}

// Generator drives the research, qualification, and outreach stages
type Generator struct {
	client inference.Client
	opts   Options
	logger *zap.Logger
}

// NewGenerator creates a stage runner on top of the given client. Zero
// token caps and concurrency fall back to the defaults; a zero temperature
// is honored.
func NewGenerator(client inference.Client, opts Options, logger *zap.Logger) *Generator {
	defaults := DefaultOptions()
	if opts.ResearchMaxTokens <= 0 {
		opts.ResearchMaxTokens = defaults.ResearchMaxTokens
	}
	if opts.OutreachMaxTokens <= 0 {
		opts.OutreachMaxTokens = defaults.OutreachMaxTokens
	}
	if opts.OutreachConcurrency <= 0 {
		opts.OutreachConcurrency = defaults.OutreachConcurrency
	}

	return &Generator{
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// ClampLeadCount bounds a requested lead count to the search form's range
func ClampLeadCount(count int) int {
	if count < MinLeads {
		return MinLeads
	}
	if count > MaxLeads {
		return MaxLeads
	}
	return count
}

// Research asks the model for count businesses in the given industry and
// location. On any failure it substitutes the sample records and reports
// the failure as a warning. An empty result array is a valid answer, not a
// failure.
func (g *Generator) Research(ctx context.Context, industry, location string, count int) StageResult {
	count = ClampLeadCount(count)

	g.logger.Info("Researching businesses",
		zap.String("industry", industry),
		zap.String("location", location),
		zap.Int("count", count))

	p := prompt.Research(industry, location, count)
	resp, err := g.client.Complete(ctx, inference.Request{
		System:      p.System,
		User:        p.User,
		Temperature: g.opts.ResearchTemperature,
		MaxTokens:   g.opts.ResearchMaxTokens,
	})
	if err != nil {
		return g.fallbackResearch(fmt.Errorf("completion failed: %w", err))
	}

	leads, err := extract.Leads(resp.Content)
	if err != nil {
		return g.fallbackResearch(err)
	}

	g.logger.Info("Research complete", zap.Int("leads", len(leads)))
	return StageResult{Leads: leads}
}

func (g *Generator) fallbackResearch(err error) StageResult {
	g.logger.Warn("Research failed, substituting sample leads", zap.Error(err))
	return StageResult{
		Leads:    lead.FallbackLeads(),
		Fallback: true,
		Warning:  fmt.Sprintf("Error during research: %v", err),
	}
}

// Qualify asks the model to score and classify the leads against the
// criteria. On any failure the input leads come back with the constant
// fallback scoring applied.
func (g *Generator) Qualify(ctx context.Context, leads []lead.Lead, criteria string) StageResult {
	g.logger.Info("Analyzing and scoring leads", zap.Int("leads", len(leads)))

	p, err := prompt.Qualify(leads, criteria)
	if err != nil {
		return g.fallbackQualify(leads, err)
	}

	resp, err := g.client.Complete(ctx, inference.Request{
		System:      p.System,
		User:        p.User,
		Temperature: g.opts.ResearchTemperature,
		MaxTokens:   g.opts.ResearchMaxTokens,
	})
	if err != nil {
		return g.fallbackQualify(leads, fmt.Errorf("completion failed: %w", err))
	}

	qualified, err := extract.Leads(resp.Content)
	if err != nil {
		return g.fallbackQualify(leads, err)
	}

	g.logger.Info("Analysis complete", zap.Int("leads", len(qualified)))
	return StageResult{Leads: qualified}
}

func (g *Generator) fallbackQualify(leads []lead.Lead, err error) StageResult {
	g.logger.Warn("Analysis failed, applying constant scoring", zap.Error(err))
	return StageResult{
		Leads:    lead.ApplyFallbackScores(leads),
		Fallback: true,
		Warning:  fmt.Sprintf("Error during analysis: %v", err),
	}
}

// Outreach generates a personalized email for one lead. On failure it
// returns the fixed template text along with the error so the caller can
// surface a warning.
func (g *Generator) Outreach(ctx context.Context, l lead.Lead) (string, error) {
	p, err := prompt.Outreach(l, g.opts.Profile)
	if err != nil {
		return EmailFailureText, err
	}

	resp, err := g.client.Complete(ctx, inference.Request{
		System:      p.System,
		User:        p.User,
		Temperature: g.opts.OutreachTemperature,
		MaxTokens:   g.opts.OutreachMaxTokens,
	})
	if err != nil {
		g.logger.Warn("Email generation failed",
			zap.String("business", l.BusinessName),
			zap.Error(err))
		return EmailFailureText, err
	}

	return resp.Content, nil
}

// OutreachAll generates an email per lead, a few at a time. Both returned
// slices are index-aligned with the input; failed leads carry the template
// text and a non-nil error.
func (g *Generator) OutreachAll(ctx context.Context, leads []lead.Lead) ([]string, []error) {
	emails := make([]string, len(leads))
	errs := make([]error, len(leads))

	var group errgroup.Group
	group.SetLimit(g.opts.OutreachConcurrency)

	for i, l := range leads {
		i, l := i, l
		group.Go(func() error {
			emails[i], errs[i] = g.Outreach(ctx, l)
			return nil // best-effort: a failed email never cancels the batch
		})
	}
	_ = group.Wait()

	return emails, errs
}
