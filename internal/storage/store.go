// Package storage persists completed review reports. Persistence is optional;
// when no database is configured the rest of the system runs without it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/diffpilot/diffpilot/internal/core"
)

// ReportRecord is one stored review report.
type ReportRecord struct {
	ID           int64
	Provider     string
	RepoFullName string
	PRNumber     int
	HeadSHA      string
	ReportJSON   string
	CreatedAt    time.Time
}

// Store defines the interface for report-history operations.
type Store interface {
	SaveReport(ctx context.Context, record *ReportRecord) error
	GetLatestReportForPR(ctx context.Context, repoFullName string, prNumber int) (*ReportRecord, error)
}

type postgresStore struct {
	db *sqlx.DB
}

// NewStore creates a new Store.
func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

// SaveReport inserts a new report record.
func (s *postgresStore) SaveReport(ctx context.Context, record *ReportRecord) error {
	query := `INSERT INTO reports (provider, repo_full_name, pr_number, head_sha, report_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, query,
		record.Provider, record.RepoFullName, record.PRNumber, record.HeadSHA, record.ReportJSON, time.Now())
	return err
}

// GetLatestReportForPR retrieves the most recent report for a pull request.
func (s *postgresStore) GetLatestReportForPR(ctx context.Context, repoFullName string, prNumber int) (*ReportRecord, error) {
	query := `
		SELECT id, provider, repo_full_name, pr_number, head_sha, report_json, created_at
		FROM reports
		WHERE repo_full_name = $1 AND pr_number = $2
		ORDER BY created_at DESC
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, repoFullName, prNumber)

	var r ReportRecord
	err := row.Scan(&r.ID, &r.Provider, &r.RepoFullName, &r.PRNumber, &r.HeadSHA, &r.ReportJSON, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no report for %s#%d", core.ErrNotFound, repoFullName, prNumber)
		}
		return nil, err
	}
	return &r, nil
}
