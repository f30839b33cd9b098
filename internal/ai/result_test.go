package ai

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func validRankingJSON() string {
	return `{
		"novelty": {"score": 8, "justification": "new routing scheme"},
		"human_impact": {"score": 5, "justification": "indirect for now"},
		"field_influence": {"score": 7, "justification": "likely to be cited"},
		"technical_maturity": {"score": 6, "justification": "working prototype"},
		"overall_importance_score": 7.2
	}`
}

func TestExtractJSONObject_StripsFencesAndProse(t *testing.T) {
	t.Parallel()

	raw, err := ExtractJSONObject("Here is the result:\n```json\n{\"title\": \"x\"}\n```\nHope that helps!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("extracted text is not valid JSON: %v", err)
	}
	if parsed["title"] != "x" {
		t.Fatalf("unexpected parsed value: %v", parsed)
	}
}

func TestExtractJSONObject_RepairsTrailingCommas(t *testing.T) {
	t.Parallel()

	raw, err := ExtractJSONObject(`{"keywords": ["a", "b",], "title": "x",}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !json.Valid(raw) {
		t.Fatalf("repaired output is not valid JSON: %s", raw)
	}
}

func TestExtractJSONObject_NoObject(t *testing.T) {
	t.Parallel()

	if _, err := ExtractJSONObject("no json here"); err == nil {
		t.Fatalf("expected error for text without an object")
	}
}

func TestParseRanking_Valid(t *testing.T) {
	t.Parallel()

	ranking, err := parseRanking(json.RawMessage(validRankingJSON()), 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranking.Novelty.Score != 8 {
		t.Fatalf("unexpected novelty score: %g", ranking.Novelty.Score)
	}
	if ranking.OverallScore != 7.2 {
		t.Fatalf("unexpected overall score: %g", ranking.OverallScore)
	}
}

func TestParseRanking_MissingAxisRejected(t *testing.T) {
	t.Parallel()

	partial := strings.Replace(validRankingJSON(), `"technical_maturity"`, `"something_else"`, 1)
	_, err := parseRanking(json.RawMessage(partial), 0, 10)
	if !errors.Is(err, ErrModelResponse) {
		t.Fatalf("expected model response error for missing axis, got %v", err)
	}
}

func TestParseRanking_OutOfRangeRejected(t *testing.T) {
	t.Parallel()

	outOfRange := strings.Replace(validRankingJSON(), `"score": 8`, `"score": 14`, 1)
	_, err := parseRanking(json.RawMessage(outOfRange), 0, 10)
	if !errors.Is(err, ErrModelResponse) {
		t.Fatalf("expected model response error for out-of-range score, got %v", err)
	}
}

func TestParseSummary_MissingFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := parseSummary(json.RawMessage(`{"title": "x", "what_is_new": "y"}`))
	if !errors.Is(err, ErrModelResponse) {
		t.Fatalf("expected model response error for incomplete summary, got %v", err)
	}
}

func TestParseSummary_Valid(t *testing.T) {
	t.Parallel()

	summary, err := parseSummary(json.RawMessage(`{
		"title": "Sparse Routing",
		"what_is_new": "a sparse router",
		"how_it_works": "gating network",
		"why_it_matters": "cheaper inference",
		"keywords": ["MoE", "routing"]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Title != "Sparse Routing" {
		t.Fatalf("unexpected title: %q", summary.Title)
	}

	text := summary.EmbeddingText()
	if !strings.Contains(text, "Sparse Routing") || !strings.Contains(text, "cheaper inference") {
		t.Fatalf("embedding text missing fields: %q", text)
	}
}

func TestValidateRankingBounds(t *testing.T) {
	t.Parallel()

	ranking := &Ranking{
		Novelty:           AxisScore{Score: 5},
		HumanImpact:       AxisScore{Score: 5},
		FieldInfluence:    AxisScore{Score: 5},
		TechnicalMaturity: AxisScore{Score: 5},
		OverallScore:      5,
	}
	if err := ValidateRankingBounds(ranking, 0, 10); err != nil {
		t.Fatalf("unexpected error for in-range ranking: %v", err)
	}

	ranking.HumanImpact.Score = -1
	if err := ValidateRankingBounds(ranking, 0, 10); !errors.Is(err, ErrModelResponse) {
		t.Fatalf("expected model response error for negative score, got %v", err)
	}
}
