package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"PULSE_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PULSE_DB_MAX_CONNS" default:"8"`

	// Generative model.
	GeminiAPIKey  string        `envconfig:"GOOGLE_API_KEY" default:""`
	GeminiModel   string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	GeminiBaseURL string        `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiTimeout time.Duration `envconfig:"GEMINI_TIMEOUT" default:"120s"`

	// Two-stage analysis.
	StageRetryCap     int           `envconfig:"STAGE_RETRY_CAP" default:"3"`
	RetryBackoffBase  time.Duration `envconfig:"RETRY_BACKOFF_BASE" default:"2s"`
	SummaryChunkWords int           `envconfig:"SUMMARY_CHUNK_WORDS" default:"4000"`
	ScoreMin          float64       `envconfig:"SCORE_MIN" default:"0"`
	ScoreMax          float64       `envconfig:"SCORE_MAX" default:"10"`

	// Shared model-call quota (token bucket, durable).
	AIQuotaCapacity     int     `envconfig:"AI_QUOTA_CAPACITY" default:"60"`
	AIQuotaRefillPerSec float64 `envconfig:"AI_QUOTA_REFILL_PER_SEC" default:"1"`

	// Embeddings + vector index.
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	ChromaHost       string `envconfig:"CHROMA_HOST" default:"localhost"`
	ChromaPort       int    `envconfig:"CHROMA_PORT" default:"8000"`
	ChromaCollection string `envconfig:"CHROMA_COLLECTION" default:"ai_progress"`

	// Orchestration.
	FetchInterval          time.Duration `envconfig:"FETCH_INTERVAL" default:"1h"`
	DiscoveryInterval      time.Duration `envconfig:"DISCOVERY_INTERVAL" default:"24h"`
	SweepInterval          time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`
	CycleLeaseTTL          time.Duration `envconfig:"CYCLE_LEASE_TTL" default:"15m"`
	WorkerCount            int           `envconfig:"WORKER_COUNT" default:"4"`
	TaskAttemptCap         int           `envconfig:"TASK_ATTEMPT_CAP" default:"5"`
	SourceFailureThreshold int           `envconfig:"SOURCE_FAILURE_THRESHOLD" default:"5"`

	// Read API.
	ServeHost string `envconfig:"PULSE_SERVE_HOST" default:"127.0.0.1"`
	ServePort int    `envconfig:"PULSE_SERVE_PORT" default:"8090"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PULSE_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PULSE_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PULSE_DB_MIN_CONNS (%d) cannot exceed PULSE_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.StageRetryCap < 1 {
		return fmt.Errorf("STAGE_RETRY_CAP must be >= 1")
	}
	if c.RetryBackoffBase <= 0 {
		return fmt.Errorf("RETRY_BACKOFF_BASE must be > 0")
	}
	if c.SummaryChunkWords < 100 {
		return fmt.Errorf("SUMMARY_CHUNK_WORDS must be >= 100")
	}
	if c.ScoreMin >= c.ScoreMax {
		return fmt.Errorf("SCORE_MIN (%g) must be below SCORE_MAX (%g)", c.ScoreMin, c.ScoreMax)
	}
	if c.AIQuotaCapacity < 1 {
		return fmt.Errorf("AI_QUOTA_CAPACITY must be >= 1")
	}
	if c.AIQuotaRefillPerSec <= 0 {
		return fmt.Errorf("AI_QUOTA_REFILL_PER_SEC must be > 0")
	}
	if c.FetchInterval < time.Minute {
		return fmt.Errorf("FETCH_INTERVAL must be >= 1m")
	}
	if c.CycleLeaseTTL < time.Minute {
		return fmt.Errorf("CYCLE_LEASE_TTL must be >= 1m")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be >= 1")
	}
	if c.TaskAttemptCap < 1 {
		return fmt.Errorf("TASK_ATTEMPT_CAP must be >= 1")
	}
	if c.SourceFailureThreshold < 1 {
		return fmt.Errorf("SOURCE_FAILURE_THRESHOLD must be >= 1")
	}
	if c.ServePort < 1 || c.ServePort > 65535 {
		return fmt.Errorf("PULSE_SERVE_PORT must be between 1 and 65535")
	}
	return nil
}

// ChromaBaseURL joins host and port into the vector index base endpoint.
func (c *Config) ChromaBaseURL() string {
	return fmt.Sprintf("http://%s:%d", strings.TrimSpace(c.ChromaHost), c.ChromaPort)
}
