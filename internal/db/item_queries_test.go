package db

import "testing"

func TestResetTargetState(t *testing.T) {
	t.Parallel()

	if got := ResetTargetState(nil); got != ItemStateDiscovered {
		t.Fatalf("expected discovered for missing fail stage, got %q", got)
	}

	summarize := "summarize"
	if got := ResetTargetState(&summarize); got != ItemStateDiscovered {
		t.Fatalf("expected summarize failures to restart from discovered, got %q", got)
	}

	rank := "rank"
	if got := ResetTargetState(&rank); got != ItemStateSummarized {
		t.Fatalf("expected rank failures to keep the stored summary, got %q", got)
	}
}
