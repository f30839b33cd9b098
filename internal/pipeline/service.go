// Package pipeline carries an admitted item through its life: normalize,
// dedup gate, two-stage analysis, embedding write and follow matching. Each
// step is a small idempotent operation driven by the task queue, so any
// worker can pick up any item at any point of the state machine.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signalfold.dev/pulse/internal/ai"
	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/vector"
)

const (
	StageSummarize = "summarize"
	StageRank      = "rank"

	DefaultChunkWords = 4000
)

// Analyst is the model surface the analysis engine drives. Satisfied by
// *ai.Client; faked in tests.
type Analyst interface {
	Summarize(ctx context.Context, title, text string) (*ai.Summary, error)
	SummarizeChunk(ctx context.Context, title, chunk string, index, total int) (string, error)
	CombineChunkSummaries(ctx context.Context, title string, parts []string) (*ai.Summary, error)
	Rank(ctx context.Context, summary *ai.Summary) (*ai.Ranking, error)
}

// Embedder turns summary text into a vector. Satisfied by *embed.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// VectorIndex is the write surface of the vector store. Satisfied by
// *vector.Index.
type VectorIndex interface {
	Upsert(ctx context.Context, records []vector.Record) error
}

// Quota gates every billed model call behind the shared token bucket.
type Quota interface {
	Wait(ctx context.Context) error
}

type Options struct {
	ChunkWords       int
	StageRetryCap    int
	RetryBackoffBase time.Duration
}

func normalizeOptions(opts Options) Options {
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = DefaultChunkWords
	}
	if opts.StageRetryCap <= 0 {
		opts.StageRetryCap = 3
	}
	if opts.RetryBackoffBase <= 0 {
		opts.RetryBackoffBase = 2 * time.Second
	}
	return opts
}

type Service struct {
	pool     *db.Pool
	logger   zerolog.Logger
	analyst  Analyst
	embedder Embedder
	index    VectorIndex
	quota    Quota
	opts     Options
}

func NewService(pool *db.Pool, logger zerolog.Logger, analyst Analyst, embedder Embedder, index VectorIndex, quota Quota, opts Options) *Service {
	return &Service{
		pool:     pool,
		logger:   logger,
		analyst:  analyst,
		embedder: embedder,
		index:    index,
		quota:    quota,
		opts:     normalizeOptions(opts),
	}
}
