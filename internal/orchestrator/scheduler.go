package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
)

type SchedulerOptions struct {
	FetchInterval     time.Duration
	DiscoveryInterval time.Duration
	SweepInterval     time.Duration
	TaskRetention     time.Duration
}

func normalizeSchedulerOptions(opts SchedulerOptions) SchedulerOptions {
	if opts.FetchInterval <= 0 {
		opts.FetchInterval = time.Hour
	}
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = 24 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Minute
	}
	if opts.TaskRetention <= 0 {
		opts.TaskRetention = 7 * 24 * time.Hour
	}
	return opts
}

// Scheduler enqueues the recurring work: hourly fetch cycles per enabled
// source, the daily discovery pass and the index consistency sweep. Dedup
// keys make ticks idempotent, so several schedulers can run side by side.
type Scheduler struct {
	pool   *db.Pool
	queue  *Queue
	logger zerolog.Logger
	opts   SchedulerOptions
}

func NewScheduler(pool *db.Pool, queue *Queue, logger zerolog.Logger, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		pool:   pool,
		queue:  queue,
		logger: logger,
		opts:   normalizeSchedulerOptions(opts),
	}
}

// Run ticks until the context ends. Every interval fires once immediately on
// start so a fresh deployment does not wait an hour for its first cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	fetchTicker := time.NewTicker(s.opts.FetchInterval)
	defer fetchTicker.Stop()
	discoveryTicker := time.NewTicker(s.opts.DiscoveryInterval)
	defer discoveryTicker.Stop()
	sweepTicker := time.NewTicker(s.opts.SweepInterval)
	defer sweepTicker.Stop()

	s.logger.Info().
		Dur("fetch_interval", s.opts.FetchInterval).
		Dur("discovery_interval", s.opts.DiscoveryInterval).
		Dur("sweep_interval", s.opts.SweepInterval).
		Msg("scheduler started")

	s.tickFetch(ctx)
	s.tickSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-fetchTicker.C:
			s.tickFetch(ctx)
		case <-discoveryTicker.C:
			s.tickDiscovery(ctx)
		case <-sweepTicker.C:
			s.tickSweep(ctx)
			s.tickPrune(ctx)
		}
	}
}

func (s *Scheduler) tickFetch(ctx context.Context) {
	sources, err := s.pool.ListEnabledSources(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list sources for fetch tick failed")
		return
	}

	window := globaltime.UTC().Truncate(s.opts.FetchInterval).Unix()
	enqueued := 0
	for _, src := range sources {
		key := fmt.Sprintf("%s:%d:%d", TaskFetchCycle, src.SourceID, window)
		inserted, err := s.queue.Enqueue(ctx, TaskFetchCycle, sourcePayload{SourceID: src.SourceID}, key)
		if err != nil {
			s.logger.Error().Err(err).Int64("source_id", src.SourceID).Msg("fetch enqueue failed")
			continue
		}
		if inserted {
			enqueued++
		}
	}

	if enqueued > 0 {
		s.logger.Info().Int("sources", len(sources)).Int("enqueued", enqueued).Msg("fetch cycles scheduled")
	}
}

func (s *Scheduler) tickDiscovery(ctx context.Context) {
	window := globaltime.UTC().Truncate(s.opts.DiscoveryInterval).Unix()
	key := fmt.Sprintf("%s:%d", TaskDiscoverSources, window)
	inserted, err := s.queue.Enqueue(ctx, TaskDiscoverSources, struct{}{}, key)
	if err != nil {
		s.logger.Error().Err(err).Msg("discovery enqueue failed")
		return
	}
	if inserted {
		s.logger.Info().Msg("discovery pass scheduled")
	}
}

func (s *Scheduler) tickSweep(ctx context.Context) {
	window := globaltime.UTC().Truncate(s.opts.SweepInterval).Unix()
	key := fmt.Sprintf("%s:%d", TaskIndexSweep, window)
	if _, err := s.queue.Enqueue(ctx, TaskIndexSweep, struct{}{}, key); err != nil {
		s.logger.Error().Err(err).Msg("sweep enqueue failed")
	}
}

func (s *Scheduler) tickPrune(ctx context.Context) {
	pruned, err := s.queue.PruneDone(ctx, s.opts.TaskRetention)
	if err != nil {
		s.logger.Error().Err(err).Msg("task prune failed")
		return
	}
	if pruned > 0 {
		s.logger.Debug().Int64("pruned", pruned).Msg("finished tasks pruned")
	}
}
