package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// FollowTermRow is a user watch term.
type FollowTermRow struct {
	TermID   int64  `json:"term_id"`
	UserID   string `json:"user_id"`
	Term     string `json:"term"`
	IsAuthor bool   `json:"is_author"`
}

// ListFollowTerms returns every registered watch term.
func (p *Pool) ListFollowTerms(ctx context.Context) ([]FollowTermRow, error) {
	const q = `
SELECT term_id, user_id, term, is_author
FROM pulse.follow_terms
ORDER BY term_id
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query follow terms: %w", err)
	}
	defer rows.Close()

	terms := make([]FollowTermRow, 0, 32)
	for rows.Next() {
		var row FollowTermRow
		if err := rows.Scan(&row.TermID, &row.UserID, &row.Term, &row.IsAuthor); err != nil {
			return nil, fmt.Errorf("scan follow term: %w", err)
		}
		terms = append(terms, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follow terms: %w", err)
	}
	return terms, nil
}

// AddFollowTerm registers a watch term for a user.
func (p *Pool) AddFollowTerm(ctx context.Context, userID, term string, isAuthor bool, now time.Time) (int64, error) {
	const q = `
INSERT INTO pulse.follow_terms (user_id, term, is_author, created_at)
VALUES ($1, $2, $3, $4)
RETURNING term_id
`
	var termID int64
	if err := p.QueryRow(ctx, q, userID, term, isAuthor, now.UTC()).Scan(&termID); err != nil {
		return 0, fmt.Errorf("insert follow term %q: %w", term, err)
	}
	return termID, nil
}

// InsertMatchEvent appends one match to the event stream. The (term, item)
// pair is unique, so replays of the match pass are no-ops.
func (p *Pool) InsertMatchEvent(ctx context.Context, termID, itemID int64, scores json.RawMessage, matchedOn string, now time.Time) (bool, error) {
	const q = `
INSERT INTO pulse.match_events (term_id, item_id, scores, matched_on, created_at)
VALUES ($1, $2, $3::jsonb, $4, $5)
ON CONFLICT DO NOTHING
`
	tag, err := p.Exec(ctx, q, termID, itemID, string(scores), matchedOn, now.UTC())
	if err != nil {
		return false, fmt.Errorf("insert match event term=%d item=%d: %w", termID, itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}
