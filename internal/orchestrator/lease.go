package orchestrator

import (
	"context"
	"fmt"
	"time"

	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
)

// AcquireCycleLease takes the per-source fetch lock. The upsert succeeds when
// no lease exists or the standing one expired; otherwise zero rows come back
// and the cycle is skipped. Leases are never waited on: overlapping cycles
// for one source are pointless work, not queued work.
func AcquireCycleLease(ctx context.Context, pool *db.Pool, sourceID int64, holder string, ttl time.Duration) (bool, error) {
	const stmt = `
INSERT INTO pulse.cycle_leases (source_id, holder, acquired_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source_id) DO UPDATE
SET holder = EXCLUDED.holder,
	acquired_at = EXCLUDED.acquired_at,
	expires_at = EXCLUDED.expires_at
WHERE pulse.cycle_leases.expires_at <= EXCLUDED.acquired_at
RETURNING source_id
`
	now := globaltime.UTC()
	var id int64
	err := pool.QueryRow(ctx, stmt, sourceID, holder, now, now.Add(ttl)).Scan(&id)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("acquire cycle lease for source %d: %w", sourceID, err)
	}
	return true, nil
}

// ReleaseCycleLease drops the lease early on a clean cycle end. Only the
// current holder may release; an expired-and-reclaimed lease stays put.
func ReleaseCycleLease(ctx context.Context, pool *db.Pool, sourceID int64, holder string) error {
	const stmt = `
DELETE FROM pulse.cycle_leases
WHERE source_id = $1
  AND holder = $2
`
	if _, err := pool.Exec(ctx, stmt, sourceID, holder); err != nil {
		return fmt.Errorf("release cycle lease for source %d: %w", sourceID, err)
	}
	return nil
}
