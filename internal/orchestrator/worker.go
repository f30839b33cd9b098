package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
	"signalfold.dev/pulse/internal/pipeline"
	"signalfold.dev/pulse/internal/source"
)

// Discoverer runs one source-discovery pass. Satisfied by
// *discovery.Service.
type Discoverer interface {
	DiscoverOnce(ctx context.Context) (int, error)
}

type WorkerOptions struct {
	WorkerCount            int
	TaskAttemptCap         int
	CycleLeaseTTL          time.Duration
	SourceFailureThreshold int
	IdlePoll               time.Duration
	SweepBatch             int
}

func normalizeWorkerOptions(opts WorkerOptions) WorkerOptions {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}
	if opts.TaskAttemptCap <= 0 {
		opts.TaskAttemptCap = 5
	}
	if opts.CycleLeaseTTL <= 0 {
		opts.CycleLeaseTTL = 15 * time.Minute
	}
	if opts.SourceFailureThreshold <= 0 {
		opts.SourceFailureThreshold = 5
	}
	if opts.IdlePoll <= 0 {
		opts.IdlePoll = 5 * time.Second
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 50
	}
	return opts
}

// Worker drains the task queue through a bounded goroutine pool.
type Worker struct {
	pool       *db.Pool
	queue      *Queue
	logger     zerolog.Logger
	registry   *source.Registry
	pipe       *pipeline.Service
	discoverer Discoverer
	opts       WorkerOptions
	workerID   string
}

func NewWorker(pool *db.Pool, queue *Queue, logger zerolog.Logger, registry *source.Registry, pipe *pipeline.Service, discoverer Discoverer, opts WorkerOptions) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		pool:       pool,
		queue:      queue,
		logger:     logger,
		registry:   registry,
		pipe:       pipe,
		discoverer: discoverer,
		opts:       normalizeWorkerOptions(opts),
		workerID:   fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// Run claims tasks until the context ends. Claims happen in this goroutine;
// execution fans out to the ants pool so a slow fetch never starves the
// cheap state-machine tasks.
func (w *Worker) Run(ctx context.Context) error {
	antsPool, err := ants.NewPool(w.opts.WorkerCount)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer antsPool.Release()

	w.logger.Info().
		Str("worker_id", w.workerID).
		Int("pool_size", w.opts.WorkerCount).
		Msg("worker started")

	var wg sync.WaitGroup
	for {
		if err := ctx.Err(); err != nil {
			break
		}

		// Keep claims bounded by pool capacity so claimed tasks do not
		// sit in memory past their visibility window.
		if antsPool.Free() == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		task, found, err := w.queue.Claim(ctx, w.workerID)
		if err != nil {
			w.logger.Error().Err(err).Msg("task claim failed")
			select {
			case <-ctx.Done():
			case <-time.After(w.opts.IdlePoll):
			}
			continue
		}
		if !found {
			select {
			case <-ctx.Done():
			case <-time.After(w.opts.IdlePoll):
			}
			continue
		}

		wg.Add(1)
		submitErr := antsPool.Submit(func() {
			defer wg.Done()
			w.execute(ctx, task)
		})
		if submitErr != nil {
			wg.Done()
			w.logger.Error().Err(submitErr).Int64("task_id", task.TaskID).Msg("submit to pool failed")
			if err := w.queue.Fail(ctx, task.TaskID, task.Attempts, w.opts.TaskAttemptCap, submitErr); err != nil {
				w.logger.Error().Err(err).Int64("task_id", task.TaskID).Msg("task fail update failed")
			}
		}
	}

	wg.Wait()
	w.logger.Info().Str("worker_id", w.workerID).Msg("worker stopped")
	return ctx.Err()
}

func (w *Worker) execute(ctx context.Context, task *ClaimedTask) {
	logger := w.logger.With().
		Int64("task_id", task.TaskID).
		Str("kind", task.Kind).
		Int("attempts", task.Attempts).
		Logger()

	start := globaltime.Now()
	err := w.handle(ctx, task)
	elapsed := globaltime.Now().Sub(start)

	if err != nil {
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("task failed")
		if failErr := w.queue.Fail(ctx, task.TaskID, task.Attempts, w.opts.TaskAttemptCap, err); failErr != nil {
			logger.Error().Err(failErr).Msg("task fail update failed")
		}
		return
	}

	logger.Debug().Dur("elapsed", elapsed).Msg("task complete")
	if err := w.queue.Complete(ctx, task.TaskID); err != nil {
		logger.Error().Err(err).Msg("task complete update failed")
	}
}

type itemPayload struct {
	ItemID int64 `json:"item_id"`
}

type sourcePayload struct {
	SourceID int64 `json:"source_id"`
}

func (w *Worker) handle(ctx context.Context, task *ClaimedTask) error {
	switch task.Kind {
	case TaskFetchCycle:
		var payload sourcePayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode fetch payload: %w", err)
		}
		return w.RunFetchCycle(ctx, payload.SourceID)

	case TaskAnalyzeItem:
		var payload itemPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode analyze payload: %w", err)
		}
		if err := w.pipe.AnalyzeItem(ctx, payload.ItemID); err != nil {
			return err
		}
		return w.enqueueItemTask(ctx, TaskIndexItem, payload.ItemID)

	case TaskIndexItem:
		var payload itemPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode index payload: %w", err)
		}
		if err := w.pipe.IndexItem(ctx, payload.ItemID); err != nil {
			return err
		}
		return w.enqueueItemTask(ctx, TaskMatchItem, payload.ItemID)

	case TaskMatchItem:
		var payload itemPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode match payload: %w", err)
		}
		return w.pipe.MatchItem(ctx, payload.ItemID)

	case TaskDiscoverSources:
		if w.discoverer == nil {
			w.logger.Warn().Msg("discovery task with no discoverer configured")
			return nil
		}
		added, err := w.discoverer.DiscoverOnce(ctx)
		if err != nil {
			return err
		}
		w.logger.Info().Int("added", added).Msg("discovery pass complete")
		return nil

	case TaskIndexSweep:
		_, err := w.pipe.SweepUnindexed(ctx, w.opts.SweepBatch)
		return err

	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// RunFetchCycle pulls one source under its cycle lease. Per-item failures
// inside a batch are logged and skipped; only a fetch failure counts against
// the source. Exported so the fetch CLI can drive a cycle directly.
func (w *Worker) RunFetchCycle(ctx context.Context, sourceID int64) error {
	acquired, err := AcquireCycleLease(ctx, w.pool, sourceID, w.workerID, w.opts.CycleLeaseTTL)
	if err != nil {
		return err
	}
	if !acquired {
		w.logger.Debug().Int64("source_id", sourceID).Msg("cycle lease held elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := ReleaseCycleLease(ctx, w.pool, sourceID, w.workerID); err != nil {
			w.logger.Error().Err(err).Int64("source_id", sourceID).Msg("lease release failed")
		}
	}()

	src, err := w.pool.GetSource(ctx, sourceID)
	if err != nil {
		if db.IsNoRows(err) {
			w.logger.Warn().Int64("source_id", sourceID).Msg("source vanished before fetch")
			return nil
		}
		return err
	}
	if !src.Enabled {
		return nil
	}

	capability, err := w.registry.Lookup(src.Kind)
	if err != nil {
		return err
	}

	rawItems, err := capability.Fetch(ctx, *src)
	if err != nil {
		count, recErr := w.pool.RecordSourceFailure(ctx, sourceID, w.opts.SourceFailureThreshold, globaltime.UTC())
		if recErr != nil {
			return recErr
		}
		w.logger.Warn().
			Err(err).
			Int64("source_id", sourceID).
			Int("failure_count", count).
			Msg("source fetch failed")
		// The cycle outcome is recorded; the task itself succeeded.
		return nil
	}

	admitted := 0
	for _, raw := range rawItems {
		cand, ok := pipeline.Normalize(raw)
		if !ok {
			continue
		}

		itemID, admission, err := w.pipe.Admit(ctx, cand)
		if err != nil {
			w.logger.Error().Err(err).Str("url", cand.CanonicalURL).Msg("dedup gate error")
			continue
		}
		if admission != pipeline.AdmissionNew {
			continue
		}

		admitted++
		if err := w.enqueueItemTask(ctx, TaskAnalyzeItem, itemID); err != nil {
			w.logger.Error().Err(err).Int64("item_id", itemID).Msg("analyze enqueue failed")
		}
	}

	if err := w.pool.RecordSourceSuccess(ctx, sourceID, globaltime.UTC()); err != nil {
		return err
	}

	w.logger.Info().
		Int64("source_id", sourceID).
		Str("source", src.Name).
		Int("fetched", len(rawItems)).
		Int("admitted", admitted).
		Msg("fetch cycle complete")
	return nil
}

func (w *Worker) enqueueItemTask(ctx context.Context, kind string, itemID int64) error {
	_, err := w.queue.Enqueue(ctx, kind, itemPayload{ItemID: itemID}, fmt.Sprintf("%s:%d", kind, itemID))
	return err
}
