package cli

import (
	"reflect"
	"testing"
)

func TestCandidatePaths_OverrideComesFirst(t *testing.T) {
	t.Parallel()

	got := candidatePaths("/etc/pulse/.env", "conf/.env", ".env")
	want := []string{"/etc/pulse/.env", "conf/.env", ".env"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected candidates: %v", got)
	}
}

func TestCandidatePaths_EmptyRequestedFallsBack(t *testing.T) {
	t.Parallel()

	got := candidatePaths("", "", ".env")
	want := []string{".env"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected candidates: %v", got)
	}
}

func TestCandidatePaths_Deduplicates(t *testing.T) {
	t.Parallel()

	got := candidatePaths(".env", ".env", ".env")
	want := []string{".env"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected candidates: %v", got)
	}
}
