package pipeline

import (
	"context"
	"fmt"

	"signalfold.dev/pulse/internal/db"
)

type Admission string

const (
	AdmissionNew       Admission = "new"
	AdmissionDuplicate Admission = "duplicate"
)

// Admit runs one candidate through the dedup gate. The cheap existence check
// filters most duplicates without write traffic; the insert itself is the
// authority, so two workers racing the same content still yield exactly one
// item. Returns the new item id when admitted.
func (s *Service) Admit(ctx context.Context, cand Candidate) (int64, Admission, error) {
	exists, err := s.pool.ItemExists(ctx, cand.CanonicalURL, cand.Fingerprint)
	if err != nil {
		return 0, "", fmt.Errorf("dedup gate precheck: %w", err)
	}
	if exists {
		return 0, AdmissionDuplicate, nil
	}

	itemID, inserted, err := s.pool.ReserveItem(ctx, newItemFromCandidate(cand))
	if err != nil {
		return 0, "", fmt.Errorf("dedup gate reserve: %w", err)
	}
	if !inserted {
		// Lost the insert race to another worker.
		return 0, AdmissionDuplicate, nil
	}

	s.logger.Info().
		Int64("item_id", itemID).
		Str("url", cand.CanonicalURL).
		Msg("item admitted")
	return itemID, AdmissionNew, nil
}

func newItemFromCandidate(cand Candidate) db.NewItem {
	return db.NewItem{
		SourceID:     cand.SourceID,
		CanonicalURL: cand.CanonicalURL,
		Fingerprint:  cand.Fingerprint,
		Title:        cand.Title,
		Authors:      AuthorsJSON(cand.Authors),
		RawText:      cand.Text,
		Language:     cand.Language,
		PublishedAt:  cand.PublishedAt,
		DiscoveredAt: cand.DiscoveredAt,
	}
}
