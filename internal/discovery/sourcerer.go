// Package discovery grows the source registry. Candidate feed URLs come
// from a pluggable provider, pass a model quality check, and enter the
// registry disabled until a smoke-test fetch proves they parse.
package discovery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"signalfold.dev/pulse/internal/ai"
	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
	"signalfold.dev/pulse/internal/pipeline"
	"signalfold.dev/pulse/internal/source"
)

// CandidateProvider supplies feed URLs worth evaluating.
type CandidateProvider interface {
	Candidates(ctx context.Context) ([]string, error)
}

// StaticProvider serves a fixed candidate list, used for operator-curated
// discovery runs.
type StaticProvider struct {
	URLs []string
}

func (p *StaticProvider) Candidates(context.Context) ([]string, error) {
	return p.URLs, nil
}

// Validator is the model surface for source vetting. Satisfied by
// *ai.Client.
type Validator interface {
	ValidateSourceCandidate(ctx context.Context, candidateURL string) (*ai.SourceVerdict, error)
}

type Service struct {
	pool      *db.Pool
	logger    zerolog.Logger
	provider  CandidateProvider
	validator Validator
	registry  *source.Registry
	quota     pipeline.Quota
}

func NewService(pool *db.Pool, logger zerolog.Logger, provider CandidateProvider, validator Validator, registry *source.Registry, quota pipeline.Quota) *Service {
	return &Service{
		pool:      pool,
		logger:    logger,
		provider:  provider,
		validator: validator,
		registry:  registry,
		quota:     quota,
	}
}

// DiscoverOnce runs one discovery pass and returns how many sources were
// added. Candidates already in the registry are skipped before any model
// call is spent on them.
func (s *Service) DiscoverOnce(ctx context.Context) (int, error) {
	candidates, err := s.provider.Candidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("gather source candidates: %w", err)
	}

	added := 0
	for _, candidateURL := range candidates {
		ok, err := s.evaluate(ctx, candidateURL)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", candidateURL).Msg("candidate evaluation failed")
			continue
		}
		if ok {
			added++
		}
	}
	return added, nil
}

func (s *Service) evaluate(ctx context.Context, candidateURL string) (bool, error) {
	exists, err := s.pool.SourceURLExists(ctx, candidateURL)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := s.quota.Wait(ctx); err != nil {
		return false, err
	}
	verdict, err := s.validator.ValidateSourceCandidate(ctx, candidateURL)
	if err != nil {
		return false, err
	}
	if !verdict.IsHighQuality {
		s.logger.Info().
			Str("url", candidateURL).
			Str("reasoning", verdict.Reasoning).
			Msg("candidate rejected")
		return false, nil
	}

	kind := verdict.SourceType
	if _, err := s.registry.Lookup(kind); err != nil {
		kind = "generic_blog"
	}
	name := verdict.SourceName
	if name == "" {
		name = candidateURL
	}

	sourceID, inserted, err := s.pool.InsertSource(ctx, name, candidateURL, kind, false, true, globaltime.UTC())
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	// Smoke test: the source only goes live once a real fetch parses.
	if err := s.smokeTest(ctx, sourceID); err != nil {
		s.logger.Warn().Err(err).Str("url", candidateURL).Msg("smoke test failed, source stays disabled")
		return false, nil
	}

	s.logger.Info().
		Int64("source_id", sourceID).
		Str("name", name).
		Str("kind", kind).
		Msg("source discovered and enabled")
	return true, nil
}

func (s *Service) smokeTest(ctx context.Context, sourceID int64) error {
	src, err := s.pool.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}

	capability, err := s.registry.Lookup(src.Kind)
	if err != nil {
		return err
	}

	items, err := capability.Fetch(ctx, *src)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("smoke test fetch returned no items")
	}

	return s.pool.RecordSourceSuccess(ctx, sourceID, globaltime.UTC())
}
