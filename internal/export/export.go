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

// Package export writes qualified leads to xlsx workbooks for client review.
// Workbooks are named by timestamp and accumulate in the output directory;
// nothing here deletes old exports.
package export

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/Fos938/lead-generator/internal/lead"
)

// ErrNoLeads is returned when there is nothing to export
var ErrNoLeads = errors.New("no qualified leads to export")

const (
	// TimestampLayout names export files down to the second
	TimestampLayout = "2006-01-02_15-04-05"

	// SheetName is the single worksheet leads are written to
	SheetName = "Sheet1"

	// ContentType is the MIME type for xlsx downloads
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	lockFileName = ".export.lock"
	lockRetry    = 100 * time.Millisecond
)

// Result describes a written export file
type Result struct {
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
	Base64    string `json:"base64,omitempty"`
}

// DataURI returns the workbook as an inline download link target
func (r *Result) DataURI() string {
	return "data:" + ContentType + ";base64," + r.Base64
}

// Writer writes lead workbooks into a single output directory. Concurrent
// writers on the same directory serialize on a lock file.
type Writer struct {
	outputDir string
	logger    *zap.Logger
	now       func() time.Time
}

// NewWriter creates a workbook writer for the given output directory
func NewWriter(outputDir string, logger *zap.Logger) *Writer {
	return &Writer{
		outputDir: outputDir,
		logger:    logger,
		now:       time.Now,
	}
}

// Write renders the leads to a workbook, saves it under the output
// directory, and returns the file details plus the bytes base64-encoded for
// inline downloads. Rows are ordered by score, highest first; leads without
// a score sort last in their original order.
func (w *Writer) Write(ctx context.Context, leads []lead.Lead) (*Result, error) {
	if len(leads) == 0 {
		return nil, ErrNoLeads
	}

	sorted := sortByScore(leads)
	columns := Columns(sorted)

	data, err := renderWorkbook(sorted, columns)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// One writer per directory at a time. Timestamped names make collisions
	// unlikely, but two runs finishing in the same second would otherwise
	// race on the same file.
	lock := flock.New(filepath.Join(w.outputDir, lockFileName))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire export lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to acquire export lock")
	}
	defer func() { _ = lock.Unlock() }()

	filename := fmt.Sprintf("qualified_leads_%s.xlsx", w.now().Format(TimestampLayout))
	path := filepath.Join(w.outputDir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write export file: %w", err)
	}

	result := &Result{
		Filename:  filename,
		Path:      path,
		Size:      int64(len(data)),
		SizeHuman: humanize.Bytes(uint64(len(data))),
		Base64:    base64.StdEncoding.EncodeToString(data),
	}

	w.logger.Info("Export written",
		zap.String("filename", filename),
		zap.Int("leads", len(leads)),
		zap.String("size", result.SizeHuman))

	return result, nil
}

// Columns returns the workbook column order for the given leads: canonical
// fields that appear on at least one lead, then any extra keys sorted by
// name. Consumers rendering lead tables use the same order.
func Columns(leads []lead.Lead) []string {
	columns := make([]string, 0, len(lead.CanonicalFields()))
	for _, field := range lead.CanonicalFields() {
		for _, l := range leads {
			if l.Field(field) != "" {
				columns = append(columns, field)
				break
			}
		}
	}

	extraSet := make(map[string]bool)
	for _, l := range leads {
		for key := range l.Extra {
			extraSet[key] = true
		}
	}
	extras := make([]string, 0, len(extraSet))
	for key := range extraSet {
		extras = append(extras, key)
	}
	sort.Strings(extras)

	return append(columns, extras...)
}

// sortByScore orders leads by score descending without mutating the input.
// Missing scores count as zero rather than failing the export.
func sortByScore(leads []lead.Lead) []lead.Lead {
	sorted := make([]lead.Lead, len(leads))
	copy(sorted, leads)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScoreValue() > sorted[j].ScoreValue()
	})
	return sorted
}

func renderWorkbook(leads []lead.Lead, columns []string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, column := range columns {
		if err := setCell(f, i+1, 1, column); err != nil {
			return nil, err
		}
	}

	for row, l := range leads {
		for col, column := range columns {
			if column == lead.FieldScore {
				if l.HasScore() {
					if err := setCell(f, col+1, row+2, l.ScoreValue()); err != nil {
						return nil, err
					}
				}
				continue
			}
			if value := l.Field(column); value != "" {
				if err := setCell(f, col+1, row+2, value); err != nil {
					return nil, err
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("failed to address cell: %w", err)
	}
	if err := f.SetCellValue(SheetName, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}
