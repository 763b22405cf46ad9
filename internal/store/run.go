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

// Package store keeps the state of lead generation runs in memory. A run is
// one execution of the research/qualify/export pipeline; the registry bounds
// how many are retained and expires finished ones after a TTL. Runs do not
// survive a restart, so exports are the durable artifact.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/Fos938/lead-generator/internal/lead"
)

// Status represents the lifecycle state of a run
type Status string

const (
	// StatusPending indicates a run that is queued but not started
	StatusPending Status = "pending"
	// StatusResearching indicates the research stage is in progress
	StatusResearching Status = "researching"
	// StatusAnalyzing indicates the qualification stage is in progress
	StatusAnalyzing Status = "analyzing"
	// StatusExporting indicates the spreadsheet export is in progress
	StatusExporting Status = "exporting"
	// StatusSucceeded indicates the run finished with results
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the run stopped with an error
	StatusFailed Status = "failed"
	// StatusCanceled indicates the run was canceled by the user
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Params are the search parameters a run was started with
type Params struct {
	Industry string `json:"industry"`
	Location string `json:"location"`
	Criteria string `json:"criteria"`
	NumLeads int    `json:"num_leads"`
}

// Run represents one lead generation pipeline execution and everything it
// produced. Warnings record stage fallbacks that degraded the results
// without failing the run.
type Run struct {
	ID        string         `json:"id"`
	Params    Params         `json:"params"`
	Status    Status         `json:"status"`
	Warnings  []string       `json:"warnings,omitempty"`
	Error     string         `json:"error,omitempty"`
	Leads     []lead.Lead    `json:"leads,omitempty"`
	Qualified []lead.Lead    `json:"qualified_leads,omitempty"`
	Emails    map[int]string `json:"emails,omitempty"`
	Export    *ExportInfo    `json:"export,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExportInfo describes the spreadsheet written for a run
type ExportInfo struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// NewRunID returns a unique run identifier
func NewRunID() string {
	return "run_" + uuid.NewString()
}

// Clone returns a deep copy so callers cannot mutate stored state
func (r *Run) Clone() *Run {
	copied := *r

	if r.Warnings != nil {
		copied.Warnings = make([]string, len(r.Warnings))
		copy(copied.Warnings, r.Warnings)
	}
	copied.Leads = cloneLeads(r.Leads)
	copied.Qualified = cloneLeads(r.Qualified)
	if r.Emails != nil {
		copied.Emails = make(map[int]string, len(r.Emails))
		for k, v := range r.Emails {
			copied.Emails[k] = v
		}
	}
	if r.Export != nil {
		export := *r.Export
		copied.Export = &export
	}
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		copied.CompletedAt = &completed
	}

	return &copied
}

// cloneLeads copies a lead slice, including each record's Extra map
func cloneLeads(leads []lead.Lead) []lead.Lead {
	if leads == nil {
		return nil
	}

	copied := make([]lead.Lead, len(leads))
	for i, l := range leads {
		if l.Extra != nil {
			extra := make(map[string]string, len(l.Extra))
			for k, v := range l.Extra {
				extra[k] = v
			}
			l.Extra = extra
		}
		if l.Score != nil {
			score := *l.Score
			l.Score = &score
		}
		copied[i] = l
	}
	return copied
}
