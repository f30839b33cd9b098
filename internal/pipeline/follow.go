package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"signalfold.dev/pulse/internal/ai"
	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
)

const (
	MatchedOnTitle    = "title"
	MatchedOnSummary  = "summary"
	MatchedOnKeywords = "keywords"
	MatchedOnAuthor   = "author"
)

// MatchItem runs the follow-match pass for one ranked item. The matched_at
// stamp is claimed first, so concurrent workers run the pass at most once;
// the unique (term, item) event constraint backstops replays anyway.
func (s *Service) MatchItem(ctx context.Context, itemID int64) error {
	item, err := s.pool.GetItem(ctx, itemID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil
		}
		return err
	}
	if item.State != db.ItemStateRanked {
		return nil
	}

	claimed, err := s.pool.ItemMatched(ctx, itemID, globaltime.UTC())
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	terms, err := s.pool.ListFollowTerms(ctx)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return nil
	}

	var summary ai.Summary
	if err := json.Unmarshal(item.Summary, &summary); err != nil {
		return fmt.Errorf("decode stored summary for item %d: %w", itemID, err)
	}
	var authors []string
	if len(item.Authors) > 0 {
		if err := json.Unmarshal(item.Authors, &authors); err != nil {
			return fmt.Errorf("decode stored authors for item %d: %w", itemID, err)
		}
	}

	matched := 0
	for _, term := range terms {
		matchedOn, hit := MatchTerm(term, item.Title, &summary, authors)
		if !hit {
			continue
		}

		inserted, err := s.pool.InsertMatchEvent(ctx, term.TermID, itemID, item.Ranking, matchedOn, globaltime.UTC())
		if err != nil {
			return err
		}
		if inserted {
			matched++
			s.logger.Info().
				Int64("item_id", itemID).
				Int64("term_id", term.TermID).
				Str("matched_on", matchedOn).
				Msg("follow match")
		}
	}

	if matched > 0 {
		s.logger.Info().Int64("item_id", itemID).Int("matches", matched).Msg("follow pass complete")
	}
	return nil
}

// MatchTerm applies one watch term to an item. Author terms require an exact
// case-insensitive author name; topic terms match as a case-insensitive
// substring of the title, summary fields, or keywords.
func MatchTerm(term db.FollowTermRow, title string, summary *ai.Summary, authors []string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(term.Term))
	if needle == "" {
		return "", false
	}

	if term.IsAuthor {
		for _, author := range authors {
			if strings.EqualFold(strings.TrimSpace(author), strings.TrimSpace(term.Term)) {
				return MatchedOnAuthor, true
			}
		}
		return "", false
	}

	if strings.Contains(strings.ToLower(title), needle) {
		return MatchedOnTitle, true
	}
	if summary != nil {
		haystack := strings.ToLower(summary.WhatIsNew + "\n" + summary.HowItWorks + "\n" + summary.WhyItMatters)
		if strings.Contains(haystack, needle) {
			return MatchedOnSummary, true
		}
		for _, keyword := range summary.Keywords {
			if strings.Contains(strings.ToLower(keyword), needle) {
				return MatchedOnKeywords, true
			}
		}
	}
	return "", false
}
