package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"signalfold.dev/pulse/internal/ai"
	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
)

// AnalyzeItem drives one item through both analysis stages. Every transition
// is a guarded state update, so a concurrently processing worker loses the
// guard and backs off instead of double-billing model calls. The summary is
// persisted before stage 2 begins; a crash between stages resumes at ranking
// with the paid-for summary intact, and a worker that dies mid-summarize
// leaves a claim that expires and is taken over on redelivery.
func (s *Service) AnalyzeItem(ctx context.Context, itemID int64) error {
	item, err := s.pool.GetItem(ctx, itemID)
	if err != nil {
		if db.IsNoRows(err) {
			s.logger.Warn().Int64("item_id", itemID).Msg("item vanished before analysis")
			return nil
		}
		return err
	}

	switch item.State {
	case db.ItemStateDiscovered, db.ItemStateSummarizing:
		if err := s.summarizeItem(ctx, item); err != nil {
			return err
		}
		return s.rankItem(ctx, itemID)
	case db.ItemStateSummarized, db.ItemStateRanking:
		return s.rankItem(ctx, itemID)
	case db.ItemStateRanked, db.ItemStateFailed:
		return nil
	default:
		return fmt.Errorf("item %d in unknown state %q", itemID, item.State)
	}
}

// stageVisibility mirrors the task queue's claim window. A summarizing item
// whose claim timestamp is older than this was left by a crashed or
// disconnected worker and becomes reclaimable on redelivery.
const stageVisibility = 30 * time.Minute

// claimSummarize takes the summarize stage. Fresh items claim by guarded
// state transition; an item already in `summarizing` is reclaimed by
// timestamp once its claim has gone stale.
func (s *Service) claimSummarize(ctx context.Context, item *db.ItemRow) (bool, error) {
	now := globaltime.UTC()
	if item.State == db.ItemStateDiscovered {
		return s.pool.TransitionItemState(ctx, item.ItemID, db.ItemStateDiscovered, db.ItemStateSummarizing, now)
	}
	if !summarizeClaimExpired(item.UpdatedAt, now) {
		return false, nil
	}
	return s.pool.ReclaimStage(ctx, item.ItemID, db.ItemStateSummarizing, now.Add(-stageVisibility), now)
}

func summarizeClaimExpired(updatedAt, now time.Time) bool {
	return !updatedAt.After(now.Add(-stageVisibility))
}

func (s *Service) summarizeItem(ctx context.Context, item *db.ItemRow) error {
	ok, err := s.claimSummarize(ctx, item)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug().Int64("item_id", item.ItemID).Msg("summarize stage already claimed")
		return nil
	}

	attempts := item.SummarizeAttempts
	summary, err := callWithRetry(ctx, s, &attempts, func(ctx context.Context) (*ai.Summary, error) {
		return s.summarizeOnce(ctx, item.Title, item.RawText)
	})
	if err != nil {
		return s.failStage(ctx, item.ItemID, StageSummarize, err, attempts)
	}

	encoded, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary for item %d: %w", item.ItemID, err)
	}
	if err := s.pool.SaveSummary(ctx, item.ItemID, encoded, attempts, globaltime.UTC()); err != nil {
		return err
	}

	s.logger.Info().
		Int64("item_id", item.ItemID).
		Int("attempts", attempts).
		Msg("stage 1 complete")
	return nil
}

// summarizeOnce picks direct or map-reduce summarization by text size. Each
// segment call and the final combine each consume one quota token.
func (s *Service) summarizeOnce(ctx context.Context, title, text string) (*ai.Summary, error) {
	chunks := SplitWords(text, s.opts.ChunkWords)
	if len(chunks) <= 1 {
		if err := s.quota.Wait(ctx); err != nil {
			return nil, err
		}
		return s.analyst.Summarize(ctx, title, text)
	}

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if err := s.quota.Wait(ctx); err != nil {
			return nil, err
		}
		part, err := s.analyst.SummarizeChunk(ctx, title, chunk, i, len(chunks))
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}

	if err := s.quota.Wait(ctx); err != nil {
		return nil, err
	}
	return s.analyst.CombineChunkSummaries(ctx, title, parts)
}

func (s *Service) rankItem(ctx context.Context, itemID int64) error {
	item, err := s.pool.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	if item.State == db.ItemStateSummarized {
		ok, err := s.pool.TransitionItemState(ctx, itemID, db.ItemStateSummarized, db.ItemStateRanking, globaltime.UTC())
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Debug().Int64("item_id", itemID).Msg("rank stage already claimed")
			return nil
		}
	} else if item.State != db.ItemStateRanking {
		return nil
	}

	var summary ai.Summary
	if err := json.Unmarshal(item.Summary, &summary); err != nil {
		return fmt.Errorf("decode stored summary for item %d: %w", itemID, err)
	}

	attempts := item.RankAttempts
	ranking, err := callWithRetry(ctx, s, &attempts, func(ctx context.Context) (*ai.Ranking, error) {
		if err := s.quota.Wait(ctx); err != nil {
			return nil, err
		}
		return s.analyst.Rank(ctx, &summary)
	})
	if err != nil {
		return s.failStage(ctx, itemID, StageRank, err, attempts)
	}

	encoded, err := json.Marshal(ranking)
	if err != nil {
		return fmt.Errorf("encode ranking for item %d: %w", itemID, err)
	}
	if err := s.pool.SaveRanking(ctx, itemID, encoded, attempts, globaltime.UTC()); err != nil {
		return err
	}

	s.logger.Info().
		Int64("item_id", itemID).
		Int("attempts", attempts).
		Float64("overall_score", ranking.OverallScore).
		Msg("stage 2 complete")
	return nil
}

// callWithRetry runs one stage call under the retry policy. Rate limiting
// backs off and retries without consuming an attempt; model errors consume
// attempts up to the stage cap. The attempt counter is shared with the
// caller so it lands in the store on both success and failure.
func callWithRetry[T any](ctx context.Context, s *Service, attempts *int, call func(context.Context) (T, error)) (T, error) {
	var zero T
	rateLimitWaits := 0

	for {
		if *attempts >= s.opts.StageRetryCap {
			return zero, fmt.Errorf("%w: attempt cap reached after %d attempts", ai.ErrModelResponse, *attempts)
		}

		result, err := call(ctx)
		if err == nil {
			*attempts++
			return result, nil
		}

		if errors.Is(err, ai.ErrRateLimited) {
			rateLimitWaits++
			delay := backoffDelay(s.opts.RetryBackoffBase, rateLimitWaits)
			s.logger.Warn().
				Dur("delay", delay).
				Int("waits", rateLimitWaits).
				Msg("rate limited, backing off")
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		if errors.Is(err, ai.ErrModelResponse) {
			*attempts++
			s.logger.Warn().
				Err(err).
				Int("attempts", *attempts).
				Msg("model response rejected")
			if *attempts >= s.opts.StageRetryCap {
				return zero, err
			}
			continue
		}

		// Transport faults and context cancellation are not model errors;
		// surface them so the task layer retries the whole operation.
		return zero, err
	}
}

func backoffDelay(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := base
	for i := 1; i < n && delay < time.Minute; i++ {
		delay *= 2
	}
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

func (s *Service) failStage(ctx context.Context, itemID int64, stage string, cause error, attempts int) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	if !errors.Is(cause, ai.ErrModelResponse) {
		// Transport failure, not a terminal model outcome. Let the task
		// retry machinery re-drive the stage later.
		return cause
	}

	reason := cause.Error()
	if err := s.pool.MarkItemFailed(ctx, itemID, stage, reason, attempts, globaltime.UTC()); err != nil {
		return err
	}
	s.logger.Error().
		Int64("item_id", itemID).
		Str("stage", stage).
		Str("reason", reason).
		Msg("analysis stage exhausted")
	return nil
}

// SplitWords cuts text into segments of at most chunkWords words each. The
// final partial segment is always kept, so no input words are dropped.
func SplitWords(text string, chunkWords int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if chunkWords <= 0 || len(words) <= chunkWords {
		return []string{strings.Join(words, " ")}
	}

	chunks := make([]string, 0, (len(words)+chunkWords-1)/chunkWords)
	for start := 0; start < len(words); start += chunkWords {
		end := start + chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
