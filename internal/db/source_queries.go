package db

import (
	"context"
	"fmt"
	"time"
)

// SourceRow is the registry view of a source.
type SourceRow struct {
	SourceID          int64      `json:"source_id"`
	Name              string     `json:"name"`
	FeedURL           string     `json:"feed_url"`
	Kind              string     `json:"kind"`
	Enabled           bool       `json:"enabled"`
	PendingValidation bool       `json:"pending_validation"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	FailureCount      int        `json:"failure_count"`
}

func scanSourceRows(rows *Rows, capacity int) ([]SourceRow, error) {
	sources := make([]SourceRow, 0, capacity)
	for rows.Next() {
		var row SourceRow
		if err := rows.Scan(
			&row.SourceID,
			&row.Name,
			&row.FeedURL,
			&row.Kind,
			&row.Enabled,
			&row.PendingValidation,
			&row.LastRunAt,
			&row.FailureCount,
		); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		sources = append(sources, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return sources, nil
}

const sourceColumns = `
	source_id,
	name,
	feed_url,
	kind,
	enabled,
	pending_validation,
	last_run_at,
	failure_count
`

// ListEnabledSources returns sources eligible for fetch cycles.
func (p *Pool) ListEnabledSources(ctx context.Context) ([]SourceRow, error) {
	q := `
SELECT ` + sourceColumns + `
FROM pulse.sources
WHERE enabled = TRUE
ORDER BY source_id
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query enabled sources: %w", err)
	}
	defer rows.Close()
	return scanSourceRows(rows, 16)
}

// ListAllSources returns the whole registry for the sources CLI.
func (p *Pool) ListAllSources(ctx context.Context) ([]SourceRow, error) {
	q := `
SELECT ` + sourceColumns + `
FROM pulse.sources
ORDER BY source_id
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()
	return scanSourceRows(rows, 16)
}

// GetSource loads one source by id.
func (p *Pool) GetSource(ctx context.Context, sourceID int64) (*SourceRow, error) {
	q := `
SELECT ` + sourceColumns + `
FROM pulse.sources
WHERE source_id = $1
`
	var row SourceRow
	err := p.QueryRow(ctx, q, sourceID).Scan(
		&row.SourceID,
		&row.Name,
		&row.FeedURL,
		&row.Kind,
		&row.Enabled,
		&row.PendingValidation,
		&row.LastRunAt,
		&row.FailureCount,
	)
	if err != nil {
		return nil, fmt.Errorf("load source %d: %w", sourceID, err)
	}
	return &row, nil
}

// InsertSource adds a source row. Discovery inserts candidates disabled and
// pending validation; bootstrap inserts enabled sources. Duplicate name or
// feed URL is not an error.
func (p *Pool) InsertSource(ctx context.Context, name, feedURL, kind string, enabled, pendingValidation bool, now time.Time) (int64, bool, error) {
	const q = `
INSERT INTO pulse.sources (name, feed_url, kind, enabled, pending_validation, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT DO NOTHING
RETURNING source_id
`
	var sourceID int64
	err := p.QueryRow(ctx, q, name, feedURL, kind, enabled, pendingValidation, now.UTC()).Scan(&sourceID)
	if err != nil {
		if IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert source %q: %w", name, err)
	}
	return sourceID, true, nil
}

// RecordSourceSuccess resets the failure counter and stamps the run. A
// pending-validation source that passed its smoke test is enabled here.
func (p *Pool) RecordSourceSuccess(ctx context.Context, sourceID int64, now time.Time) error {
	const q = `
UPDATE pulse.sources
SET failure_count = 0,
	enabled = TRUE,
	pending_validation = FALSE,
	last_run_at = $2,
	updated_at = $2
WHERE source_id = $1
`
	if _, err := p.Exec(ctx, q, sourceID, now.UTC()); err != nil {
		return fmt.Errorf("record source %d success: %w", sourceID, err)
	}
	return nil
}

// RecordSourceFailure bumps the failure counter and disables the source once
// it crosses the threshold. Returns the new counter value.
func (p *Pool) RecordSourceFailure(ctx context.Context, sourceID int64, threshold int, now time.Time) (int, error) {
	const q = `
UPDATE pulse.sources
SET failure_count = failure_count + 1,
	enabled = CASE WHEN failure_count + 1 >= $2 THEN FALSE ELSE enabled END,
	last_run_at = $3,
	updated_at = $3
WHERE source_id = $1
RETURNING failure_count
`
	var count int
	if err := p.QueryRow(ctx, q, sourceID, threshold, now.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("record source %d failure: %w", sourceID, err)
	}
	return count, nil
}

// SetSourceEnabled toggles a source without deleting it.
func (p *Pool) SetSourceEnabled(ctx context.Context, sourceID int64, enabled bool, now time.Time) error {
	const q = `
UPDATE pulse.sources
SET enabled = $2,
	pending_validation = FALSE,
	failure_count = CASE WHEN $2 THEN 0 ELSE failure_count END,
	updated_at = $3
WHERE source_id = $1
`
	tag, err := p.Exec(ctx, q, sourceID, enabled, now.UTC())
	if err != nil {
		return fmt.Errorf("set source %d enabled=%t: %w", sourceID, enabled, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("source %d not found", sourceID)
	}
	return nil
}

// SourceURLExists reports whether any source already claims the feed URL.
func (p *Pool) SourceURLExists(ctx context.Context, feedURL string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM pulse.sources WHERE feed_url = $1)`
	var exists bool
	if err := p.QueryRow(ctx, q, feedURL).Scan(&exists); err != nil {
		return false, fmt.Errorf("check source url: %w", err)
	}
	return exists, nil
}
