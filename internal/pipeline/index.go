package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"signalfold.dev/pulse/internal/ai"
	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
	"signalfold.dev/pulse/internal/vector"
)

// IndexItem embeds a ranked item's summary and upserts it into the vector
// index. The durable flag flips only after the index acknowledged the write,
// so a crash in between leaves the item flagged as unwritten and the sweep
// re-drives it. The upsert is keyed by the item UUID, which makes the
// re-drive overwrite rather than duplicate.
func (s *Service) IndexItem(ctx context.Context, itemID int64) error {
	item, err := s.pool.GetItem(ctx, itemID)
	if err != nil {
		if db.IsNoRows(err) {
			s.logger.Warn().Int64("item_id", itemID).Msg("item vanished before indexing")
			return nil
		}
		return err
	}
	if item.State != db.ItemStateRanked {
		s.logger.Debug().Int64("item_id", itemID).Str("state", item.State).Msg("item not ready for indexing")
		return nil
	}
	if item.EmbeddingWritten {
		return nil
	}

	var summary ai.Summary
	if err := json.Unmarshal(item.Summary, &summary); err != nil {
		return fmt.Errorf("decode stored summary for item %d: %w", itemID, err)
	}
	var ranking ai.Ranking
	if err := json.Unmarshal(item.Ranking, &ranking); err != nil {
		return fmt.Errorf("decode stored ranking for item %d: %w", itemID, err)
	}

	if err := s.quota.Wait(ctx); err != nil {
		return err
	}
	vec, err := s.embedder.Embed(ctx, summary.EmbeddingText())
	if err != nil {
		return fmt.Errorf("embed item %d: %w", itemID, err)
	}

	metadata := map[string]any{
		"item_id":         item.ItemID,
		"url":             item.CanonicalURL,
		"title":           summary.Title,
		"overall_score":   ranking.OverallScore,
		"embedding_model": s.embedder.Model(),
	}
	if item.PublishedAt != nil {
		metadata["published_at"] = item.PublishedAt.UTC().Format("2006-01-02")
	}

	record := vector.Record{
		ID:       item.ItemUUID,
		Vector:   vec,
		Document: summary.EmbeddingText(),
		Metadata: metadata,
	}
	if err := s.index.Upsert(ctx, []vector.Record{record}); err != nil {
		return fmt.Errorf("index item %d: %w", itemID, err)
	}

	if err := s.pool.SetEmbeddingWritten(ctx, itemID, globaltime.UTC()); err != nil {
		return err
	}

	s.logger.Info().Int64("item_id", itemID).Msg("vector written")
	return nil
}

// SweepUnindexed re-drives ranked items whose vector write never got
// confirmed. Returns how many items were driven.
func (s *Service) SweepUnindexed(ctx context.Context, limit int) (int, error) {
	ids, err := s.pool.ListItemsAwaitingIndex(ctx, limit)
	if err != nil {
		return 0, err
	}

	driven := 0
	for _, id := range ids {
		if err := s.IndexItem(ctx, id); err != nil {
			s.logger.Error().Err(err).Int64("item_id", id).Msg("index sweep retry failed")
			continue
		}
		driven++
	}

	if driven > 0 {
		s.logger.Info().Int("driven", driven).Msg("index sweep complete")
	}
	return driven, nil
}
