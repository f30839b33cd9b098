package db

import (
	"encoding/json"
	"time"
)

// Source maps pulse.sources. Sources are never hard-deleted; a source that
// keeps failing is disabled once its failure counter crosses the configured
// threshold.
type Source struct {
	SourceID          int64      `gorm:"column:source_id;primaryKey;autoIncrement"`
	SourceUUID        string     `gorm:"column:source_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name              string     `gorm:"column:name;type:text;not null;unique"`
	FeedURL           string     `gorm:"column:feed_url;type:text;not null;unique"`
	Kind              string     `gorm:"column:kind;type:text;not null"`
	Enabled           bool       `gorm:"column:enabled;type:boolean;not null;default:true"`
	PendingValidation bool       `gorm:"column:pending_validation;type:boolean;not null;default:false"`
	LastRunAt         *time.Time `gorm:"column:last_run_at;type:timestamptz"`
	FailureCount      int        `gorm:"column:failure_count;type:integer;not null;default:0"`
	CreatedAt         time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "pulse.sources" }

// ProgressItem maps pulse.progress_items, the durable per-item pipeline
// record. canonical_url and fingerprint are independently unique across
// live rows (partial indexes, see post_automigrate.sql) so a re-fetch of
// the same content resolves to the existing row while a soft-deleted row
// never blocks re-admission.
type ProgressItem struct {
	ItemID            int64           `gorm:"column:item_id;primaryKey;autoIncrement"`
	ItemUUID          string          `gorm:"column:item_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SourceID          int64           `gorm:"column:source_id;type:bigint;not null;index"`
	CanonicalURL      string          `gorm:"column:canonical_url;type:text;not null"`
	Fingerprint       []byte          `gorm:"column:fingerprint;type:bytea;not null"`
	Title             string          `gorm:"column:title;type:text;not null"`
	Authors           json.RawMessage `gorm:"column:authors;type:jsonb"`
	RawText           string          `gorm:"column:raw_text;type:text;not null"`
	Language          string          `gorm:"column:language;type:text;not null;default:und"`
	PublishedAt       *time.Time      `gorm:"column:published_at;type:timestamptz"`
	DiscoveredAt      time.Time       `gorm:"column:discovered_at;type:timestamptz;not null"`
	State             string          `gorm:"column:state;type:text;not null;default:discovered;index"`
	Summary           json.RawMessage `gorm:"column:summary;type:jsonb"`
	Ranking           json.RawMessage `gorm:"column:ranking;type:jsonb"`
	SummarizeAttempts int             `gorm:"column:summarize_attempts;type:integer;not null;default:0"`
	RankAttempts      int             `gorm:"column:rank_attempts;type:integer;not null;default:0"`
	FailStage         *string         `gorm:"column:fail_stage;type:text"`
	FailReason        *string         `gorm:"column:fail_reason;type:text"`
	EmbeddingWritten  bool            `gorm:"column:embedding_written;type:boolean;not null;default:false;index"`
	MatchedAt         *time.Time      `gorm:"column:matched_at;type:timestamptz"`
	DeletedAt         *time.Time      `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ProgressItem) TableName() string { return "pulse.progress_items" }

// FollowTerm maps pulse.follow_terms.
type FollowTerm struct {
	TermID    int64     `gorm:"column:term_id;primaryKey;autoIncrement"`
	UserID    string    `gorm:"column:user_id;type:text;not null;default:default_user;index"`
	Term      string    `gorm:"column:term;type:text;not null"`
	IsAuthor  bool      `gorm:"column:is_author;type:boolean;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (FollowTerm) TableName() string { return "pulse.follow_terms" }

// MatchEvent maps pulse.match_events, the append-only stream consumed by the
// notification collaborator. Scores are snapshotted so the consumer never has
// to join back onto the item.
type MatchEvent struct {
	EventID   int64           `gorm:"column:event_id;primaryKey;autoIncrement"`
	TermID    int64           `gorm:"column:term_id;type:bigint;not null;uniqueIndex:idx_match_term_item"`
	ItemID    int64           `gorm:"column:item_id;type:bigint;not null;uniqueIndex:idx_match_term_item"`
	Scores    json.RawMessage `gorm:"column:scores;type:jsonb;not null"`
	MatchedOn string          `gorm:"column:matched_on;type:text;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (MatchEvent) TableName() string { return "pulse.match_events" }

// Flag maps pulse.flags. Written by review collaborators outside the core;
// the pipeline only reads it to keep flagged items out of re-drive sweeps.
type Flag struct {
	FlagID    int64     `gorm:"column:flag_id;primaryKey;autoIncrement"`
	UserID    string    `gorm:"column:user_id;type:text;not null"`
	ItemID    int64     `gorm:"column:item_id;type:bigint;not null;index"`
	Reason    string    `gorm:"column:reason;type:text;not null"`
	Status    string    `gorm:"column:status;type:text;not null;default:pending"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Flag) TableName() string { return "pulse.flags" }

// CycleLease maps pulse.cycle_leases, the durable per-source cycle lock.
type CycleLease struct {
	SourceID   int64     `gorm:"column:source_id;primaryKey;autoIncrement:false"`
	Holder     string    `gorm:"column:holder;type:text;not null"`
	AcquiredAt time.Time `gorm:"column:acquired_at;type:timestamptz;not null"`
	ExpiresAt  time.Time `gorm:"column:expires_at;type:timestamptz;not null"`
}

func (CycleLease) TableName() string { return "pulse.cycle_leases" }

// Task maps pulse.tasks, the shared work queue. Delivery is at-least-once:
// a claimed task that is never completed becomes claimable again after its
// visibility deadline.
type Task struct {
	TaskID      int64           `gorm:"column:task_id;primaryKey;autoIncrement"`
	Kind        string          `gorm:"column:kind;type:text;not null;index"`
	DedupKey    *string         `gorm:"column:dedup_key;type:text;unique"`
	Payload     json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Status      string          `gorm:"column:status;type:text;not null;default:pending;index"`
	Attempts    int             `gorm:"column:attempts;type:integer;not null;default:0"`
	AvailableAt time.Time       `gorm:"column:available_at;type:timestamptz;not null;index"`
	ClaimedBy   *string         `gorm:"column:claimed_by;type:text"`
	ClaimedAt   *time.Time      `gorm:"column:claimed_at;type:timestamptz"`
	LastError   *string         `gorm:"column:last_error;type:text"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Task) TableName() string { return "pulse.tasks" }

// RateBucket maps pulse.rate_buckets, the durable token bucket shared by all
// worker processes.
type RateBucket struct {
	Name         string    `gorm:"column:name;type:text;primaryKey"`
	Tokens       float64   `gorm:"column:tokens;type:double precision;not null"`
	Capacity     float64   `gorm:"column:capacity;type:double precision;not null"`
	RefillPerSec float64   `gorm:"column:refill_per_sec;type:double precision;not null"`
	RefilledAt   time.Time `gorm:"column:refilled_at;type:timestamptz;not null"`
}

func (RateBucket) TableName() string { return "pulse.rate_buckets" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&ProgressItem{},
		&FollowTerm{},
		&MatchEvent{},
		&Flag{},
		&CycleLease{},
		&Task{},
		&RateBucket{},
	}
}
