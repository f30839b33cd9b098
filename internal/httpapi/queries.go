package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type itemListEntry struct {
	ItemID       int64           `json:"item_id"`
	ItemUUID     string          `json:"item_uuid"`
	SourceID     int64           `json:"source_id"`
	CanonicalURL string          `json:"canonical_url"`
	Title        string          `json:"title"`
	State        string          `json:"state"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	Ranking      json.RawMessage `json:"ranking,omitempty"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`
}

func (s *Server) queryItems(ctx context.Context, state string, limit int) ([]itemListEntry, error) {
	const q = `
SELECT
	item_id,
	item_uuid::text,
	source_id,
	canonical_url,
	title,
	state,
	summary,
	ranking,
	published_at,
	discovered_at
FROM pulse.progress_items
WHERE deleted_at IS NULL
  AND ($1 = '' OR state = $1)
ORDER BY item_id DESC
LIMIT $2
`
	rows, err := s.pool.Query(ctx, q, state, limit)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]itemListEntry, 0, limit)
	for rows.Next() {
		var row itemListEntry
		if err := rows.Scan(
			&row.ItemID,
			&row.ItemUUID,
			&row.SourceID,
			&row.CanonicalURL,
			&row.Title,
			&row.State,
			&row.Summary,
			&row.Ranking,
			&row.PublishedAt,
			&row.DiscoveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", err)
	}
	return items, nil
}

type statsResponse struct {
	Sources        int64            `json:"sources"`
	EnabledSources int64            `json:"enabled_sources"`
	Items          int64            `json:"items"`
	ItemStates     map[string]int64 `json:"item_states"`
	AwaitingIndex  int64            `json:"awaiting_index"`
	MatchEvents    int64            `json:"match_events"`
	PendingTasks   int64            `json:"pending_tasks"`
	DeadTasks      int64            `json:"dead_tasks"`
	LastDiscovered *time.Time       `json:"last_discovered_at,omitempty"`
}

func (s *Server) queryStats(ctx context.Context) (*statsResponse, error) {
	stats := &statsResponse{ItemStates: map[string]int64{}}

	const countsQ = `
SELECT
	(SELECT COUNT(*) FROM pulse.sources),
	(SELECT COUNT(*) FROM pulse.sources WHERE enabled = TRUE),
	(SELECT COUNT(*) FROM pulse.progress_items WHERE deleted_at IS NULL),
	(SELECT COUNT(*) FROM pulse.progress_items WHERE deleted_at IS NULL AND state = 'ranked' AND embedding_written = FALSE),
	(SELECT COUNT(*) FROM pulse.match_events),
	(SELECT COUNT(*) FROM pulse.tasks WHERE status = 'pending'),
	(SELECT COUNT(*) FROM pulse.tasks WHERE status = 'dead'),
	(SELECT MAX(discovered_at) FROM pulse.progress_items WHERE deleted_at IS NULL)
`
	err := s.pool.QueryRow(ctx, countsQ).Scan(
		&stats.Sources,
		&stats.EnabledSources,
		&stats.Items,
		&stats.AwaitingIndex,
		&stats.MatchEvents,
		&stats.PendingTasks,
		&stats.DeadTasks,
		&stats.LastDiscovered,
	)
	if err != nil {
		return nil, fmt.Errorf("query stat counts: %w", err)
	}

	const statesQ = `
SELECT state, COUNT(*)
FROM pulse.progress_items
WHERE deleted_at IS NULL
GROUP BY state
`
	rows, err := s.pool.Query(ctx, statesQ)
	if err != nil {
		return nil, fmt.Errorf("query item states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan item state count: %w", err)
		}
		stats.ItemStates[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item state counts: %w", err)
	}

	return stats, nil
}
