// Package orchestrator runs the shared task queue, the per-source cycle
// leases and the worker pool that drains them. All coordination state lives
// in Postgres; any number of worker processes can run against the same
// database without stepping on each other.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
)

// Task kinds understood by the worker pool.
const (
	TaskFetchCycle      = "fetch_cycle"
	TaskAnalyzeItem     = "analyze_item"
	TaskIndexItem       = "index_item"
	TaskMatchItem       = "match_item"
	TaskDiscoverSources = "discover_sources"
	TaskIndexSweep      = "index_sweep"
)

const (
	taskStatusPending = "pending"
	taskStatusClaimed = "claimed"
	taskStatusDone    = "done"
	taskStatusDead    = "dead"

	// A claimed task that never completes becomes claimable again after
	// this visibility window.
	claimVisibility = 30 * time.Minute
)

// ClaimedTask is one unit of work handed to a worker.
type ClaimedTask struct {
	TaskID   int64
	Kind     string
	Payload  json.RawMessage
	Attempts int
}

type Queue struct {
	pool *db.Pool
}

func NewQueue(pool *db.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue appends a task. A non-empty dedup key collapses duplicate pending
// work; enqueueing the same key again is a no-op until the first task
// finishes and its key is released.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, dedupKey string) (bool, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	var key *string
	if dedupKey != "" {
		key = &dedupKey
	}

	const stmt = `
INSERT INTO pulse.tasks (kind, dedup_key, payload, status, available_at, created_at, updated_at)
VALUES ($1, $2, $3::jsonb, 'pending', $4, $4, $4)
ON CONFLICT DO NOTHING
`
	tag, err := q.pool.Exec(ctx, stmt, kind, key, string(encoded), globaltime.UTC())
	if err != nil {
		return false, fmt.Errorf("enqueue %s task: %w", kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Claim hands out one due task. FOR UPDATE SKIP LOCKED keeps concurrent
// workers from fighting over the same row; the claim also re-delivers tasks
// whose previous worker died mid-flight.
func (q *Queue) Claim(ctx context.Context, workerID string) (*ClaimedTask, bool, error) {
	const stmt = `
UPDATE pulse.tasks
SET status = 'claimed',
	attempts = attempts + 1,
	claimed_by = $1,
	claimed_at = $2,
	updated_at = $2
WHERE task_id = (
	SELECT task_id
	FROM pulse.tasks
	WHERE (status = 'pending' AND available_at <= $2)
	   OR (status = 'claimed' AND claimed_at <= $3)
	ORDER BY available_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING task_id, kind, payload, attempts
`
	now := globaltime.UTC()
	var task ClaimedTask
	err := q.pool.QueryRow(ctx, stmt, workerID, now, now.Add(-claimVisibility)).Scan(
		&task.TaskID,
		&task.Kind,
		&task.Payload,
		&task.Attempts,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim task: %w", err)
	}
	return &task, true, nil
}

// Complete marks the task done and releases its dedup key so the same work
// can be scheduled again later.
func (q *Queue) Complete(ctx context.Context, taskID int64) error {
	const stmt = `
UPDATE pulse.tasks
SET status = 'done',
	dedup_key = NULL,
	last_error = NULL,
	updated_at = $2
WHERE task_id = $1
`
	if _, err := q.pool.Exec(ctx, stmt, taskID, globaltime.UTC()); err != nil {
		return fmt.Errorf("complete task %d: %w", taskID, err)
	}
	return nil
}

// Fail records the error and reschedules with linear backoff, or moves the
// task to dead once its attempt budget is spent.
func (q *Queue) Fail(ctx context.Context, taskID int64, attempts, attemptCap int, cause error) error {
	now := globaltime.UTC()
	reason := cause.Error()

	if attempts >= attemptCap {
		const stmt = `
UPDATE pulse.tasks
SET status = 'dead',
	dedup_key = NULL,
	last_error = $2,
	updated_at = $3
WHERE task_id = $1
`
		if _, err := q.pool.Exec(ctx, stmt, taskID, reason, now); err != nil {
			return fmt.Errorf("bury task %d: %w", taskID, err)
		}
		return nil
	}

	const stmt = `
UPDATE pulse.tasks
SET status = 'pending',
	claimed_by = NULL,
	claimed_at = NULL,
	last_error = $2,
	available_at = $3,
	updated_at = $4
WHERE task_id = $1
`
	delay := time.Duration(attempts) * time.Minute
	if _, err := q.pool.Exec(ctx, stmt, taskID, reason, now.Add(delay), now); err != nil {
		return fmt.Errorf("reschedule task %d: %w", taskID, err)
	}
	return nil
}

// PruneDone deletes finished tasks older than the retention window.
func (q *Queue) PruneDone(ctx context.Context, olderThan time.Duration) (int64, error) {
	const stmt = `
DELETE FROM pulse.tasks
WHERE status = 'done'
  AND updated_at < $1
`
	tag, err := q.pool.Exec(ctx, stmt, globaltime.UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune done tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}
