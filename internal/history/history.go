// Package history keeps a write-once audit log of finished runs in SQLite.
// Run state itself is never persisted; these are summaries for the
// dashboard's recent-runs list and the CLI.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store handles queries to the SQLite run history database
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the history database at dbPath
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, logger: logger}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initSchema creates the runs table if it doesn't exist
func (s *Store) initSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			industry TEXT,
			location TEXT,
			requested_leads INTEGER,
			returned_leads INTEGER,
			qualified_leads INTEGER,
			high_value INTEGER,
			medium_value INTEGER,
			low_value INTEGER,
			research_fallback INTEGER,
			analysis_fallback INTEGER,
			export_filename TEXT,
			created_at DATETIME,
			completed_at DATETIME
		)
	`

	_, err := s.db.Exec(query)
	return err
}

// Summary represents one finished run
type Summary struct {
	RunID            string    `json:"run_id"`
	Industry         string    `json:"industry"`
	Location         string    `json:"location"`
	RequestedLeads   int       `json:"requested_leads"`
	ReturnedLeads    int       `json:"returned_leads"`
	QualifiedLeads   int       `json:"qualified_leads"`
	HighValue        int       `json:"high_value"`
	MediumValue      int       `json:"medium_value"`
	LowValue         int       `json:"low_value"`
	ResearchFallback bool      `json:"research_fallback"`
	AnalysisFallback bool      `json:"analysis_fallback"`
	ExportFilename   string    `json:"export_filename,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Record writes a run summary. Recording the same run twice overwrites the
// earlier row.
func (s *Store) Record(ctx context.Context, summary Summary) error {
	query := `
		INSERT OR REPLACE INTO runs (
			run_id, industry, location,
			requested_leads, returned_leads, qualified_leads,
			high_value, medium_value, low_value,
			research_fallback, analysis_fallback,
			export_filename, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		summary.RunID, summary.Industry, summary.Location,
		summary.RequestedLeads, summary.ReturnedLeads, summary.QualifiedLeads,
		summary.HighValue, summary.MediumValue, summary.LowValue,
		summary.ResearchFallback, summary.AnalysisFallback,
		summary.ExportFilename, summary.CreatedAt, summary.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run summary: %w", err)
	}

	s.logger.Debug("Run summary recorded", zap.String("run_id", summary.RunID))
	return nil
}

const summaryColumns = `run_id, industry, location,
	requested_leads, returned_leads, qualified_leads,
	high_value, medium_value, low_value,
	research_fallback, analysis_fallback,
	export_filename, created_at, completed_at`

// Recent returns up to limit summaries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := "SELECT " + summaryColumns + " FROM runs ORDER BY completed_at DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run history rows: %w", err)
	}

	return summaries, nil
}

// Get returns the summary for a run ID, or nil when no row exists
func (s *Store) Get(ctx context.Context, runID string) (*Summary, error) {
	query := "SELECT " + summaryColumns + " FROM runs WHERE run_id = ?"

	row := s.db.QueryRowContext(ctx, query, runID)

	summary, err := scanSummary(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Run not recorded
		}
		return nil, err
	}

	return &summary, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row scanner) (Summary, error) {
	var summary Summary
	err := row.Scan(
		&summary.RunID, &summary.Industry, &summary.Location,
		&summary.RequestedLeads, &summary.ReturnedLeads, &summary.QualifiedLeads,
		&summary.HighValue, &summary.MediumValue, &summary.LowValue,
		&summary.ResearchFallback, &summary.AnalysisFallback,
		&summary.ExportFilename, &summary.CreatedAt, &summary.CompletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Summary{}, err
		}
		return Summary{}, fmt.Errorf("failed to scan run summary: %w", err)
	}
	return summary, nil
}
