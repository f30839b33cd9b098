package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Pipeline states for a ProgressItem. Transitions are strictly sequential
// per item; `failed` absorbs either analysis stage after retries run out.
const (
	ItemStateDiscovered  = "discovered"
	ItemStateSummarizing = "summarizing"
	ItemStateSummarized  = "summarized"
	ItemStateRanking     = "ranking"
	ItemStateRanked      = "ranked"
	ItemStateFailed      = "failed"
)

// NewItem carries the fields needed to reserve a fresh ProgressItem.
type NewItem struct {
	SourceID     int64
	CanonicalURL string
	Fingerprint  []byte
	Title        string
	Authors      json.RawMessage
	RawText      string
	Language     string
	PublishedAt  *time.Time
	DiscoveredAt time.Time
}

// ItemRow is the working view of a ProgressItem used by pipeline stages.
type ItemRow struct {
	ItemID            int64
	ItemUUID          string
	SourceID          int64
	CanonicalURL      string
	Title             string
	Authors           json.RawMessage
	RawText           string
	State             string
	Summary           json.RawMessage
	Ranking           json.RawMessage
	SummarizeAttempts int
	RankAttempts      int
	EmbeddingWritten  bool
	FailStage         *string
	PublishedAt       *time.Time
	UpdatedAt         time.Time
}

// ItemExists reports whether a live item already exists for the canonical
// URL or the content fingerprint. The URL check runs first because it is
// the cheaper indexed lookup.
func (p *Pool) ItemExists(ctx context.Context, canonicalURL string, fingerprint []byte) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1
	FROM pulse.progress_items
	WHERE deleted_at IS NULL
	  AND canonical_url = $1
)
OR EXISTS (
	SELECT 1
	FROM pulse.progress_items
	WHERE deleted_at IS NULL
	  AND fingerprint = $2
)
`
	var exists bool
	if err := p.QueryRow(ctx, q, canonicalURL, fingerprint).Scan(&exists); err != nil {
		return false, fmt.Errorf("check item existence: %w", err)
	}
	return exists, nil
}

// ReserveItem inserts a new ProgressItem in state `discovered` if neither
// the URL nor the fingerprint is taken by a live row. The bare ON CONFLICT
// DO NOTHING arbitrates on both partial unique indexes, so two workers
// racing on the same content resolve to exactly one row; the loser gets
// inserted=false.
func (p *Pool) ReserveItem(ctx context.Context, item NewItem) (int64, bool, error) {
	const q = `
INSERT INTO pulse.progress_items (
	source_id,
	canonical_url,
	fingerprint,
	title,
	authors,
	raw_text,
	language,
	published_at,
	discovered_at,
	state,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, 'discovered', $9, $9)
ON CONFLICT DO NOTHING
RETURNING item_id
`
	authors := item.Authors
	if len(authors) == 0 {
		authors = json.RawMessage(`[]`)
	}

	var itemID int64
	err := p.QueryRow(
		ctx,
		q,
		item.SourceID,
		item.CanonicalURL,
		item.Fingerprint,
		item.Title,
		string(authors),
		item.RawText,
		item.Language,
		item.PublishedAt,
		item.DiscoveredAt.UTC(),
	).Scan(&itemID)
	if err != nil {
		if IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reserve progress item: %w", err)
	}
	return itemID, true, nil
}

// GetItem loads one item by id.
func (p *Pool) GetItem(ctx context.Context, itemID int64) (*ItemRow, error) {
	const q = `
SELECT
	item_id,
	item_uuid::text,
	source_id,
	canonical_url,
	title,
	authors,
	raw_text,
	state,
	summary,
	ranking,
	summarize_attempts,
	rank_attempts,
	embedding_written,
	fail_stage,
	published_at,
	updated_at
FROM pulse.progress_items
WHERE item_id = $1
  AND deleted_at IS NULL
`
	var row ItemRow
	err := p.QueryRow(ctx, q, itemID).Scan(
		&row.ItemID,
		&row.ItemUUID,
		&row.SourceID,
		&row.CanonicalURL,
		&row.Title,
		&row.Authors,
		&row.RawText,
		&row.State,
		&row.Summary,
		&row.Ranking,
		&row.SummarizeAttempts,
		&row.RankAttempts,
		&row.EmbeddingWritten,
		&row.FailStage,
		&row.PublishedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", itemID, err)
	}
	return &row, nil
}

// TransitionItemState advances the per-item state machine only when the item
// is still in the expected prior state. Returns false when another worker
// already moved it.
func (p *Pool) TransitionItemState(ctx context.Context, itemID int64, from, to string, now time.Time) (bool, error) {
	const q = `
UPDATE pulse.progress_items
SET state = $3, updated_at = $4
WHERE item_id = $1
  AND state = $2
  AND deleted_at IS NULL
`
	tag, err := p.Exec(ctx, q, itemID, from, to, now.UTC())
	if err != nil {
		return false, fmt.Errorf("transition item %d %s->%s: %w", itemID, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReclaimStage takes over an in-progress stage claim whose holder has gone
// quiet. The guard on updated_at makes the takeover race-free: of two workers
// reclaiming the same stale item, exactly one bumps the timestamp.
func (p *Pool) ReclaimStage(ctx context.Context, itemID int64, state string, cutoff, now time.Time) (bool, error) {
	const q = `
UPDATE pulse.progress_items
SET updated_at = $4
WHERE item_id = $1
  AND state = $2
  AND updated_at <= $3
  AND deleted_at IS NULL
`
	tag, err := p.Exec(ctx, q, itemID, state, cutoff.UTC(), now.UTC())
	if err != nil {
		return false, fmt.Errorf("reclaim %s stage for item %d: %w", state, itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetTargetState picks the state a failed item returns to on manual
// re-drive. A rank failure keeps the paid-for summary and resumes at
// `summarized`; anything else starts over from `discovered`.
func ResetTargetState(failStage *string) string {
	if failStage != nil && *failStage == "rank" {
		return ItemStateSummarized
	}
	return ItemStateDiscovered
}

// ResetFailedItem moves a failed item back to the given target state and
// clears the failure record so analysis can be re-driven. The attempt
// counter of the restarted stage is zeroed; a completed stage keeps its
// count. Returns false when the item is not in the failed state.
func (p *Pool) ResetFailedItem(ctx context.Context, itemID int64, target string, now time.Time) (bool, error) {
	const q = `
UPDATE pulse.progress_items
SET state = $2,
	fail_stage = NULL,
	fail_reason = NULL,
	summarize_attempts = CASE WHEN $2 = 'discovered' THEN 0 ELSE summarize_attempts END,
	rank_attempts = 0,
	updated_at = $3
WHERE item_id = $1
  AND state = 'failed'
  AND deleted_at IS NULL
`
	tag, err := p.Exec(ctx, q, itemID, target, now.UTC())
	if err != nil {
		return false, fmt.Errorf("reset failed item %d: %w", itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveSummary persists the stage-1 result and advances to `summarized`.
// The write happens before stage 2 starts so a crash never repeats billed
// summarization work.
func (p *Pool) SaveSummary(ctx context.Context, itemID int64, summary json.RawMessage, attempts int, now time.Time) error {
	const q = `
UPDATE pulse.progress_items
SET summary = $2::jsonb,
	summarize_attempts = $3,
	state = 'summarized',
	updated_at = $4
WHERE item_id = $1
  AND state = 'summarizing'
  AND deleted_at IS NULL
`
	tag, err := p.Exec(ctx, q, itemID, string(summary), attempts, now.UTC())
	if err != nil {
		return fmt.Errorf("save summary for item %d: %w", itemID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("item %d not in summarizing state", itemID)
	}
	return nil
}

// SaveRanking persists the stage-2 result and advances to the terminal
// `ranked` state.
func (p *Pool) SaveRanking(ctx context.Context, itemID int64, ranking json.RawMessage, attempts int, now time.Time) error {
	const q = `
UPDATE pulse.progress_items
SET ranking = $2::jsonb,
	rank_attempts = $3,
	state = 'ranked',
	updated_at = $4
WHERE item_id = $1
  AND state = 'ranking'
  AND deleted_at IS NULL
`
	tag, err := p.Exec(ctx, q, itemID, string(ranking), attempts, now.UTC())
	if err != nil {
		return fmt.Errorf("save ranking for item %d: %w", itemID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("item %d not in ranking state", itemID)
	}
	return nil
}

// MarkItemFailed records the exhausted stage and reason. The item stays
// visible for operator triage and manual re-drive.
func (p *Pool) MarkItemFailed(ctx context.Context, itemID int64, stage, reason string, attempts int, now time.Time) error {
	const q = `
UPDATE pulse.progress_items
SET state = 'failed',
	fail_stage = $2,
	fail_reason = $3,
	summarize_attempts = CASE WHEN $2 = 'summarize' THEN $4 ELSE summarize_attempts END,
	rank_attempts = CASE WHEN $2 = 'rank' THEN $4 ELSE rank_attempts END,
	updated_at = $5
WHERE item_id = $1
  AND deleted_at IS NULL
`
	if _, err := p.Exec(ctx, q, itemID, stage, reason, attempts, now.UTC()); err != nil {
		return fmt.Errorf("mark item %d failed: %w", itemID, err)
	}
	return nil
}

// SetEmbeddingWritten flips the cross-store consistency flag. It is only
// called after the vector index acknowledged the upsert.
func (p *Pool) SetEmbeddingWritten(ctx context.Context, itemID int64, now time.Time) error {
	const q = `
UPDATE pulse.progress_items
SET embedding_written = TRUE, updated_at = $2
WHERE item_id = $1
  AND deleted_at IS NULL
`
	if _, err := p.Exec(ctx, q, itemID, now.UTC()); err != nil {
		return fmt.Errorf("set embedding_written for item %d: %w", itemID, err)
	}
	return nil
}

// ListItemsAwaitingIndex returns ranked items whose vector write has not
// been confirmed yet. Flagged items are excluded from re-drives.
func (p *Pool) ListItemsAwaitingIndex(ctx context.Context, limit int) ([]int64, error) {
	const q = `
SELECT i.item_id
FROM pulse.progress_items i
WHERE i.state = 'ranked'
  AND i.embedding_written = FALSE
  AND i.deleted_at IS NULL
  AND NOT EXISTS (
	SELECT 1 FROM pulse.flags f
	WHERE f.item_id = i.item_id AND f.status = 'pending'
  )
ORDER BY i.item_id
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query items awaiting index: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items awaiting index: %w", err)
	}
	return ids, nil
}

// ItemMatched stamps the follow-match pass so one item is only matched once.
// Returns false when another worker already claimed the pass.
func (p *Pool) ItemMatched(ctx context.Context, itemID int64, now time.Time) (bool, error) {
	const q = `
UPDATE pulse.progress_items
SET matched_at = $2, updated_at = $2
WHERE item_id = $1
  AND matched_at IS NULL
  AND state = 'ranked'
  AND deleted_at IS NULL
`
	tag, err := p.Exec(ctx, q, itemID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("stamp match pass for item %d: %w", itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailedItem is the operator-triage view of an exhausted item.
type FailedItem struct {
	ItemID       int64      `json:"item_id"`
	CanonicalURL string     `json:"canonical_url"`
	Title        string     `json:"title"`
	FailStage    *string    `json:"fail_stage,omitempty"`
	FailReason   *string    `json:"fail_reason,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// ListFailedItems returns items in the failed state, newest first.
func (p *Pool) ListFailedItems(ctx context.Context, limit int) ([]FailedItem, error) {
	const q = `
SELECT item_id, canonical_url, title, fail_stage, fail_reason, updated_at, published_at
FROM pulse.progress_items
WHERE state = 'failed'
  AND deleted_at IS NULL
ORDER BY updated_at DESC
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed items: %w", err)
	}
	defer rows.Close()

	items := make([]FailedItem, 0, limit)
	for rows.Next() {
		var row FailedItem
		if err := rows.Scan(&row.ItemID, &row.CanonicalURL, &row.Title, &row.FailStage, &row.FailReason, &row.UpdatedAt, &row.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan failed item: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed items: %w", err)
	}
	return items, nil
}
