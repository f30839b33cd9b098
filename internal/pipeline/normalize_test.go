package pipeline

import (
	"bytes"
	"testing"
	"time"

	"signalfold.dev/pulse/internal/source"
)

func TestNormalizeURL_StripsTrackingAndNormalizes(t *testing.T) {
	t.Parallel()

	canonical, host := normalizeURL("https://Example.COM:443/blog/post/?utm_source=abc&fbclid=123&b=2&a=1")
	if canonical != "https://example.com/blog/post?a=1&b=2" {
		t.Fatalf("unexpected canonical url: %q", canonical)
	}
	if host != "example.com" {
		t.Fatalf("unexpected host: %q", host)
	}
}

func TestNormalizeURL_Invalid(t *testing.T) {
	t.Parallel()

	canonical, host := normalizeURL("not a url")
	if canonical != "" || host != "" {
		t.Fatalf("expected empty result for invalid URL, got canonical=%q host=%q", canonical, host)
	}
}

func TestFingerprint_StableAcrossCosmeticChanges(t *testing.T) {
	t.Parallel()

	a := Fingerprint("Model Release", "a new training method")
	b := Fingerprint("MODEL RELEASE", "A New Training Method")
	if !bytes.Equal(a, b) {
		t.Fatalf("expected case-folded fingerprints to match")
	}

	c := Fingerprint("Model Release", "a different method")
	if bytes.Equal(a, c) {
		t.Fatalf("expected different content to change the fingerprint")
	}
}

func TestFingerprint_IgnoresRepublishedURL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	first, ok := Normalize(source.RawItem{
		URL:          "https://sitea.com/post",
		Title:        "Model Release",
		Abstract:     "a new training method",
		DiscoveredAt: now,
	})
	if !ok {
		t.Fatalf("expected first item to survive normalization")
	}
	second, ok := Normalize(source.RawItem{
		URL:          "https://siteb.com/republished",
		Title:        "Model Release",
		Abstract:     "a new training method",
		DiscoveredAt: now,
	})
	if !ok {
		t.Fatalf("expected second item to survive normalization")
	}

	if !bytes.Equal(first.Fingerprint, second.Fingerprint) {
		t.Fatalf("identical content republished under a different URL must share a fingerprint")
	}
	if first.CanonicalURL == second.CanonicalURL {
		t.Fatalf("expected distinct canonical URLs")
	}
}

func TestNormalize_DropsItemsWithoutURLOrText(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	if _, ok := Normalize(source.RawItem{URL: "", Title: "t", DiscoveredAt: now}); ok {
		t.Fatalf("expected item without URL to be dropped")
	}
	if _, ok := Normalize(source.RawItem{URL: "https://example.com/x", DiscoveredAt: now}); ok {
		t.Fatalf("expected item without any text to be dropped")
	}
}

func TestNormalize_CollapsesWhitespaceAndFallsBackToTitle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	cand, ok := Normalize(source.RawItem{
		SourceID:     7,
		URL:          "https://example.com/paper?utm_campaign=x",
		Title:        "  A   new\n\tresult  ",
		Authors:      []string{" Ada Lovelace ", ""},
		DiscoveredAt: now,
	})
	if !ok {
		t.Fatalf("expected item to survive normalization")
	}
	if cand.CanonicalURL != "https://example.com/paper" {
		t.Fatalf("unexpected canonical url: %q", cand.CanonicalURL)
	}
	if cand.Title != "A new result" {
		t.Fatalf("unexpected title: %q", cand.Title)
	}
	if cand.Text != "A new result" {
		t.Fatalf("expected text to fall back to title, got %q", cand.Text)
	}
	if len(cand.Authors) != 1 || cand.Authors[0] != "Ada Lovelace" {
		t.Fatalf("unexpected authors: %v", cand.Authors)
	}
	if len(cand.Fingerprint) != 32 {
		t.Fatalf("expected 32-byte fingerprint, got %d bytes", len(cand.Fingerprint))
	}
}
