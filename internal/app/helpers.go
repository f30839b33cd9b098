package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"signalfold.dev/pulse/internal/ai"
	"signalfold.dev/pulse/internal/cli"
	"signalfold.dev/pulse/internal/config"
	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/embed"
	"signalfold.dev/pulse/internal/logging"
	"signalfold.dev/pulse/internal/pipeline"
	"signalfold.dev/pulse/internal/quota"
	"signalfold.dev/pulse/internal/source"
	"signalfold.dev/pulse/internal/vector"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

// runtime bundles what nearly every command needs.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

func (r *runtime) Close() {
	if r != nil && r.pool != nil {
		_ = r.pool.Close()
	}
}

func connect(ctx context.Context, envLoader *cli.EnvLoader) (*runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, pool: pool}, nil
}

func newRegistry() (*source.Registry, error) {
	capabilities := []source.Capability{source.NewArxiv(nil)}
	for _, kind := range source.WebFeedKinds() {
		feed, err := source.NewWebFeed(kind, nil, true)
		if err != nil {
			return nil, err
		}
		capabilities = append(capabilities, feed)
	}
	return source.NewRegistry(capabilities...), nil
}

func newQuotaBucket(ctx context.Context, rt *runtime) (*quota.Bucket, error) {
	bucket := quota.NewBucket(rt.pool, rt.logger, quota.BucketModelCalls)
	if err := bucket.Ensure(ctx, float64(rt.cfg.AIQuotaCapacity), rt.cfg.AIQuotaRefillPerSec); err != nil {
		return nil, err
	}
	return bucket, nil
}

func newAnalyst(rt *runtime) (*ai.Client, error) {
	return ai.NewClient(ai.Config{
		APIKey:   rt.cfg.GeminiAPIKey,
		Model:    rt.cfg.GeminiModel,
		BaseURL:  rt.cfg.GeminiBaseURL,
		Timeout:  rt.cfg.GeminiTimeout,
		ScoreMin: rt.cfg.ScoreMin,
		ScoreMax: rt.cfg.ScoreMax,
	}, rt.logger)
}

// newPipeline wires the full analysis stack: model client, embedder, vector
// index and the durable quota bucket.
func newPipeline(ctx context.Context, rt *runtime) (*pipeline.Service, *embed.Embedder, *vector.Index, error) {
	analyst, err := newAnalyst(rt)
	if err != nil {
		return nil, nil, nil, err
	}

	embedder, err := embed.NewEmbedder(ctx, rt.cfg.GeminiAPIKey, rt.cfg.EmbeddingModel)
	if err != nil {
		return nil, nil, nil, err
	}

	index, err := vector.NewIndex(ctx, rt.cfg.ChromaBaseURL(), rt.cfg.ChromaCollection)
	if err != nil {
		return nil, nil, nil, err
	}

	bucket, err := newQuotaBucket(ctx, rt)
	if err != nil {
		return nil, nil, nil, err
	}

	svc := pipeline.NewService(rt.pool, rt.logger, analyst, embedder, index, bucket, pipeline.Options{
		ChunkWords:       rt.cfg.SummaryChunkWords,
		StageRetryCap:    rt.cfg.StageRetryCap,
		RetryBackoffBase: rt.cfg.RetryBackoffBase,
	})
	return svc, embedder, index, nil
}

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func formatUTCTimestampPtr(value *time.Time) string {
	if value == nil || value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
