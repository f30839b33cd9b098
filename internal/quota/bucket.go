// Package quota implements a durable token bucket over Postgres. Workers
// are independent processes, so the shared model-call budget has to live in
// the store rather than in process memory.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
)

const (
	// BucketModelCalls throttles every generateContent/embed call across
	// all workers.
	BucketModelCalls = "model_calls"

	defaultPollInterval = 2 * time.Second
)

type Bucket struct {
	pool         *db.Pool
	logger       zerolog.Logger
	name         string
	pollInterval time.Duration
}

func NewBucket(pool *db.Pool, logger zerolog.Logger, name string) *Bucket {
	return &Bucket{
		pool:         pool,
		logger:       logger,
		name:         name,
		pollInterval: defaultPollInterval,
	}
}

// Ensure creates the bucket row if absent and updates its limits otherwise,
// so config changes take effect on restart.
func (b *Bucket) Ensure(ctx context.Context, capacity float64, refillPerSec float64) error {
	const q = `
INSERT INTO pulse.rate_buckets (name, tokens, capacity, refill_per_sec, refilled_at)
VALUES ($1, $2, $2, $3, $4)
ON CONFLICT (name) DO UPDATE
SET capacity = EXCLUDED.capacity,
	refill_per_sec = EXCLUDED.refill_per_sec,
	tokens = LEAST(pulse.rate_buckets.tokens, EXCLUDED.capacity)
`
	if _, err := b.pool.Exec(ctx, q, b.name, capacity, refillPerSec, globaltime.UTC()); err != nil {
		return fmt.Errorf("ensure rate bucket %q: %w", b.name, err)
	}
	return nil
}

// TryAcquire takes one token if the refilled balance allows it. The refill
// and take happen in a single conditional UPDATE so concurrent workers
// never overdraw.
func (b *Bucket) TryAcquire(ctx context.Context) (bool, error) {
	const q = `
UPDATE pulse.rate_buckets
SET tokens = LEAST(capacity, tokens + EXTRACT(EPOCH FROM ($2 - refilled_at)) * refill_per_sec) - 1,
	refilled_at = $2
WHERE name = $1
  AND LEAST(capacity, tokens + EXTRACT(EPOCH FROM ($2 - refilled_at)) * refill_per_sec) >= 1
`
	tag, err := b.pool.Exec(ctx, q, b.name, globaltime.UTC())
	if err != nil {
		return false, fmt.Errorf("acquire token from bucket %q: %w", b.name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Wait blocks until a token is acquired or the context ends. A worker that
// cannot get quota waits here instead of erroring.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		ok, err := b.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		b.logger.Debug().Str("bucket", b.name).Msg("quota exhausted, waiting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}
