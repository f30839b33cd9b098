package ai

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Summary is the structured stage-1 result.
type Summary struct {
	Title        string   `json:"title"`
	WhatIsNew    string   `json:"what_is_new"`
	HowItWorks   string   `json:"how_it_works"`
	WhyItMatters string   `json:"why_it_matters"`
	Keywords     []string `json:"keywords"`
}

// EmbeddingText is the canonical text fed to the embedding model, mirroring
// what search queries are matched against.
func (s *Summary) EmbeddingText() string {
	return fmt.Sprintf("Title: %s\nInnovation: %s\nImpact: %s", s.Title, s.WhatIsNew, s.WhyItMatters)
}

// AxisScore is one ranking axis with its justification.
type AxisScore struct {
	Score         float64 `json:"score"`
	Justification string  `json:"justification"`
}

// Ranking is the structured stage-2 result. All four axes are mandatory.
type Ranking struct {
	Novelty           AxisScore `json:"novelty"`
	HumanImpact       AxisScore `json:"human_impact"`
	FieldInfluence    AxisScore `json:"field_influence"`
	TechnicalMaturity AxisScore `json:"technical_maturity"`
	OverallScore      float64   `json:"overall_importance_score"`
}

//go:embed summary.schema.json
var summarySchemaJSON string

//go:embed ranking.schema.json
var rankingSchemaJSON string

var (
	schemaOnce       sync.Once
	summarySchema    *jsonschema.Schema
	rankingSchema    *jsonschema.Schema
	schemaCompileErr error
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		for _, res := range []struct {
			name string
			text string
		}{
			{name: "summary.schema.json", text: summarySchemaJSON},
			{name: "ranking.schema.json", text: rankingSchemaJSON},
		} {
			if err := compiler.AddResource(res.name, strings.NewReader(res.text)); err != nil {
				schemaCompileErr = fmt.Errorf("add schema resource %s: %w", res.name, err)
				return
			}
		}

		var err error
		if summarySchema, err = compiler.Compile("summary.schema.json"); err != nil {
			schemaCompileErr = fmt.Errorf("compile summary schema: %w", err)
			return
		}
		if rankingSchema, err = compiler.Compile("ranking.schema.json"); err != nil {
			schemaCompileErr = fmt.Errorf("compile ranking schema: %w", err)
		}
	})
	return schemaCompileErr
}

func validateAgainst(schema *jsonschema.Schema, raw json.RawMessage) error {
	var value any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return fmt.Errorf("decode JSON: %w", err)
	}
	return schema.Validate(value)
}

func parseSummary(raw json.RawMessage) (*Summary, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	if err := validateAgainst(summarySchema, raw); err != nil {
		return nil, fmt.Errorf("%w: summary schema: %v", ErrModelResponse, err)
	}

	var summary Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("%w: decode summary: %v", ErrModelResponse, err)
	}
	return &summary, nil
}

func parseRanking(raw json.RawMessage, scoreMin, scoreMax float64) (*Ranking, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	if err := validateAgainst(rankingSchema, raw); err != nil {
		return nil, fmt.Errorf("%w: ranking schema: %v", ErrModelResponse, err)
	}

	var ranking Ranking
	if err := json.Unmarshal(raw, &ranking); err != nil {
		return nil, fmt.Errorf("%w: decode ranking: %v", ErrModelResponse, err)
	}
	if err := ValidateRankingBounds(&ranking, scoreMin, scoreMax); err != nil {
		return nil, err
	}
	return &ranking, nil
}

// ValidateRankingBounds rejects any axis outside [min, max]. Out-of-range
// responses fail the stage; they are never clamped into validity.
func ValidateRankingBounds(r *Ranking, scoreMin, scoreMax float64) error {
	axes := []struct {
		name  string
		score float64
	}{
		{"novelty", r.Novelty.Score},
		{"human_impact", r.HumanImpact.Score},
		{"field_influence", r.FieldInfluence.Score},
		{"technical_maturity", r.TechnicalMaturity.Score},
		{"overall_importance_score", r.OverallScore},
	}
	for _, axis := range axes {
		if axis.score < scoreMin || axis.score > scoreMax {
			return fmt.Errorf("%w: %s score %g outside [%g, %g]", ErrModelResponse, axis.name, axis.score, scoreMin, scoreMax)
		}
	}
	return nil
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// ExtractJSONObject pulls the JSON object out of a model response that may
// be wrapped in markdown fences or prose, and repairs trailing commas, the
// most common LLM JSON defect.
func ExtractJSONObject(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	candidate := text[start : end+1]
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	repaired := trailingCommaPattern.ReplaceAllString(candidate, "$1")
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	return json.RawMessage(repaired), nil
}
