package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signalfold.dev/pulse/internal/ai"
)

func testService(retryCap int) *Service {
	return &Service{
		logger: zerolog.Nop(),
		opts: normalizeOptions(Options{
			StageRetryCap:    retryCap,
			RetryBackoffBase: time.Millisecond,
		}),
	}
}

func TestSplitWords_KeepsEveryWord(t *testing.T) {
	t.Parallel()

	words := make([]string, 20000)
	for i := range words {
		words[i] = "w"
	}
	text := strings.Join(words, " ")

	chunks := SplitWords(text, 4000)
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}

	total := 0
	for _, chunk := range chunks {
		total += len(strings.Fields(chunk))
	}
	if total != 20000 {
		t.Fatalf("expected all 20000 words preserved, got %d", total)
	}
}

func TestSplitWords_PartialFinalChunk(t *testing.T) {
	t.Parallel()

	chunks := SplitWords(strings.Repeat("x ", 4500), 4000)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if got := len(strings.Fields(chunks[1])); got != 500 {
		t.Fatalf("expected 500 words in final chunk, got %d", got)
	}
}

func TestSplitWords_SmallTextSingleChunk(t *testing.T) {
	t.Parallel()

	chunks := SplitWords("short abstract text", 4000)
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk, got %d", len(chunks))
	}
	if chunks[0] != "short abstract text" {
		t.Fatalf("unexpected chunk content: %q", chunks[0])
	}
}

func TestCallWithRetry_ModelErrorsConsumeAttemptsUpToCap(t *testing.T) {
	t.Parallel()

	s := testService(3)
	calls := 0
	attempts := 0
	_, err := callWithRetry(context.Background(), s, &attempts, func(context.Context) (int, error) {
		calls++
		return 0, ai.ErrModelResponse
	})
	if !errors.Is(err, ai.ErrModelResponse) {
		t.Fatalf("expected model response error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", calls)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", attempts)
	}
}

func TestCallWithRetry_RateLimitDoesNotConsumeAttempts(t *testing.T) {
	t.Parallel()

	s := testService(3)
	calls := 0
	attempts := 0
	result, err := callWithRetry(context.Background(), s, &attempts, func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", ai.ErrRateLimited
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: %q", result)
	}
	if attempts != 1 {
		t.Fatalf("rate-limited calls must not consume attempts, got %d", attempts)
	}
}

func TestCallWithRetry_ResumesFromStoredAttempts(t *testing.T) {
	t.Parallel()

	s := testService(3)
	calls := 0
	attempts := 2
	_, err := callWithRetry(context.Background(), s, &attempts, func(context.Context) (int, error) {
		calls++
		return 0, ai.ErrModelResponse
	})
	if !errors.Is(err, ai.ErrModelResponse) {
		t.Fatalf("expected model response error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single remaining call, got %d", calls)
	}
	if attempts != 3 {
		t.Fatalf("expected attempts to land at the cap, got %d", attempts)
	}
}

func TestCallWithRetry_TransportErrorsSurfaceUnchanged(t *testing.T) {
	t.Parallel()

	s := testService(3)
	boom := errors.New("connection reset")
	attempts := 0
	_, err := callWithRetry(context.Background(), s, &attempts, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error to surface, got %v", err)
	}
	if attempts != 0 {
		t.Fatalf("transport errors must not consume attempts, got %d", attempts)
	}
}

func TestSummarizeClaimExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if summarizeClaimExpired(now.Add(-time.Minute), now) {
		t.Fatalf("a fresh claim must not be reclaimable")
	}
	if summarizeClaimExpired(now.Add(-stageVisibility).Add(time.Second), now) {
		t.Fatalf("a claim inside the visibility window must not be reclaimable")
	}
	if !summarizeClaimExpired(now.Add(-stageVisibility), now) {
		t.Fatalf("a claim exactly at the visibility window must be reclaimable")
	}
	if !summarizeClaimExpired(now.Add(-2*time.Hour), now) {
		t.Fatalf("an abandoned claim must be reclaimable")
	}
}

func TestBackoffDelay_DoublesAndCaps(t *testing.T) {
	t.Parallel()

	base := 2 * time.Second
	if d := backoffDelay(base, 1); d != 2*time.Second {
		t.Fatalf("unexpected first delay: %v", d)
	}
	if d := backoffDelay(base, 3); d != 8*time.Second {
		t.Fatalf("unexpected third delay: %v", d)
	}
	if d := backoffDelay(base, 20); d != time.Minute {
		t.Fatalf("expected delay to cap at one minute, got %v", d)
	}
}
