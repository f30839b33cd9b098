package pipeline

import (
	"testing"

	"signalfold.dev/pulse/internal/ai"
	"signalfold.dev/pulse/internal/db"
)

func TestMatchTerm_TopicSubstring(t *testing.T) {
	t.Parallel()

	summary := &ai.Summary{
		WhatIsNew:    "A sparse mixture-of-experts router",
		HowItWorks:   "Gating network routes tokens",
		WhyItMatters: "Cuts inference cost",
		Keywords:     []string{"MoE", "routing"},
	}

	matchedOn, hit := MatchTerm(db.FollowTermRow{Term: "Mixture-of-Experts"}, "Scaling laws revisited", summary, nil)
	if !hit {
		t.Fatalf("expected case-insensitive summary match")
	}
	if matchedOn != MatchedOnSummary {
		t.Fatalf("unexpected match field: %q", matchedOn)
	}

	matchedOn, hit = MatchTerm(db.FollowTermRow{Term: "scaling laws"}, "Scaling Laws Revisited", summary, nil)
	if !hit || matchedOn != MatchedOnTitle {
		t.Fatalf("expected title match, got hit=%v field=%q", hit, matchedOn)
	}

	matchedOn, hit = MatchTerm(db.FollowTermRow{Term: "routing"}, "Other title", &ai.Summary{Keywords: []string{"token routing"}}, nil)
	if !hit || matchedOn != MatchedOnKeywords {
		t.Fatalf("expected keyword match, got hit=%v field=%q", hit, matchedOn)
	}
}

func TestMatchTerm_AuthorRequiresExactName(t *testing.T) {
	t.Parallel()

	authors := []string{"Ada Lovelace", "Alan Turing"}

	_, hit := MatchTerm(db.FollowTermRow{Term: "ada lovelace", IsAuthor: true}, "", nil, authors)
	if !hit {
		t.Fatalf("expected case-insensitive exact author match")
	}

	_, hit = MatchTerm(db.FollowTermRow{Term: "Ada", IsAuthor: true}, "", nil, authors)
	if hit {
		t.Fatalf("author terms must not match on substrings")
	}

	// An author term never falls back to topic matching.
	_, hit = MatchTerm(db.FollowTermRow{Term: "Ada Lovelace", IsAuthor: true}, "Tribute to Ada Lovelace", nil, nil)
	if hit {
		t.Fatalf("author term must not match title text")
	}
}

func TestMatchTerm_BlankTermNeverMatches(t *testing.T) {
	t.Parallel()

	if _, hit := MatchTerm(db.FollowTermRow{Term: "   "}, "any title", nil, nil); hit {
		t.Fatalf("blank term must not match")
	}
}
