package httpapi

import "testing"

func TestParseLimit(t *testing.T) {
	t.Parallel()

	if got := parseLimit("", 25); got != 25 {
		t.Fatalf("expected fallback for empty value, got %d", got)
	}
	if got := parseLimit("abc", 25); got != 25 {
		t.Fatalf("expected fallback for junk value, got %d", got)
	}
	if got := parseLimit("0", 25); got != 25 {
		t.Fatalf("expected fallback for zero, got %d", got)
	}
	if got := parseLimit("50", 25); got != 50 {
		t.Fatalf("expected explicit value, got %d", got)
	}
	if got := parseLimit("9999", 25); got != maxPageSize {
		t.Fatalf("expected clamp to max page size, got %d", got)
	}
}
