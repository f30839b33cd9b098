// Package ai wraps the Gemini generateContent REST API behind the two
// analysis operations the pipeline needs: structured summarization and
// multi-axis ranking. The client classifies failures but does not retry;
// retry accounting belongs to the analysis engine so attempt caps stay
// durable and exact.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrRateLimited marks a 429 from the provider. Callers back off and
	// retry without burning an attempt against the model-error cap.
	ErrRateLimited = errors.New("model rate limited")

	// ErrModelResponse marks a malformed, incomplete, or out-of-range
	// model response. Retried up to the stage cap, then terminal.
	ErrModelResponse = errors.New("invalid model response")
)

const (
	DefaultModel   = "gemini-2.5-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

type Config struct {
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
	ScoreMin float64
	ScoreMax float64
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.ScoreMax <= cfg.ScoreMin {
		cfg.ScoreMin, cfg.ScoreMax = 0, 10
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize runs stage 1 for a text that fits in one model call.
func (c *Client) Summarize(ctx context.Context, title, text string) (*Summary, error) {
	raw, err := c.generateJSON(ctx, fmt.Sprintf(summaryPrompt, title, text))
	if err != nil {
		return nil, err
	}
	return parseSummary(raw)
}

// SummarizeChunk condenses one segment of an oversized text into a plain
// partial summary used only as CombineChunkSummaries input.
func (c *Client) SummarizeChunk(ctx context.Context, title, chunk string, index, total int) (string, error) {
	raw, err := c.generateJSON(ctx, fmt.Sprintf(chunkPrompt, title, index+1, total, chunk))
	if err != nil {
		return "", err
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode chunk summary: %v", ErrModelResponse, err)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return "", fmt.Errorf("%w: chunk summary is empty", ErrModelResponse)
	}
	return parsed.Summary, nil
}

// CombineChunkSummaries reduces the per-segment summaries into the final
// structured stage-1 result.
func (c *Client) CombineChunkSummaries(ctx context.Context, title string, parts []string) (*Summary, error) {
	var joined strings.Builder
	for i, p := range parts {
		fmt.Fprintf(&joined, "Segment %d of %d:\n%s\n\n", i+1, len(parts), p)
	}
	raw, err := c.generateJSON(ctx, fmt.Sprintf(combinePrompt, title, joined.String()))
	if err != nil {
		return nil, err
	}
	return parseSummary(raw)
}

// Rank runs stage 2 against the stage-1 summary. Scores outside the
// configured bounds or a missing axis are an ErrModelResponse, never
// silently clamped.
func (c *Client) Rank(ctx context.Context, summary *Summary) (*Ranking, error) {
	raw, err := c.generateJSON(ctx, fmt.Sprintf(
		rankingPrompt,
		c.cfg.ScoreMin, c.cfg.ScoreMax,
		summary.Title, summary.WhatIsNew, summary.HowItWorks, summary.WhyItMatters,
	))
	if err != nil {
		return nil, err
	}
	return parseRanking(raw, c.cfg.ScoreMin, c.cfg.ScoreMax)
}

// SourceVerdict is the discovery-time evaluation of a candidate feed URL.
type SourceVerdict struct {
	IsHighQuality bool   `json:"is_high_quality_source"`
	Reasoning     string `json:"reasoning"`
	SourceName    string `json:"source_name"`
	SourceType    string `json:"source_type"`
}

// ValidateSourceCandidate asks the model whether a URL is worth tracking.
func (c *Client) ValidateSourceCandidate(ctx context.Context, candidateURL string) (*SourceVerdict, error) {
	raw, err := c.generateJSON(ctx, fmt.Sprintf(sourcererPrompt, candidateURL))
	if err != nil {
		return nil, err
	}

	var verdict SourceVerdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, fmt.Errorf("%w: decode source verdict: %v", ErrModelResponse, err)
	}
	return &verdict, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	reqBody := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: prompt}},
		}},
		GenerationConfig: generationConfig{
			Temperature:      1.0,
			MaxOutputTokens:  65536,
			ResponseMimeType: "application/json",
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read generate response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: provider returned 429", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider status %d: %s", ErrModelResponse, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode provider envelope: %v", ErrModelResponse, err)
	}
	if parsed.Error != nil {
		if parsed.Error.Status == "RESOURCE_EXHAUSTED" {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, parsed.Error.Message)
		}
		return nil, fmt.Errorf("%w: provider error: %s", ErrModelResponse, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", ErrModelResponse)
	}

	var textBuilder strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		textBuilder.WriteString(p.Text)
	}

	cleaned, err := ExtractJSONObject(textBuilder.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelResponse, err)
	}
	return cleaned, nil
}
