package source

import (
	"testing"
	"time"
)

const arxivFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>ArXiv Query Results</title>
  <entry>
    <id>http://arxiv.org/abs/2608.01234v1</id>
    <title>Sparse  Routing for
      Mixture-of-Experts Models</title>
    <summary>We present a
      sparse routing scheme.</summary>
    <published>2026-08-28T17:59:02Z</published>
    <author><name>Ada Lovelace</name></author>
    <author><name>Alan Turing</name></author>
    <link href="http://arxiv.org/abs/2608.01234v1" rel="alternate" type="text/html"/>
    <link href="http://arxiv.org/pdf/2608.01234v1" title="pdf" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id></id>
    <title>Entry without a usable link</title>
    <summary>Dropped.</summary>
  </entry>
</feed>`

func TestParseArxivFeed(t *testing.T) {
	t.Parallel()

	items, err := parseArxivFeed([]byte(arxivFixture), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	item := items[0]
	if item.SourceID != 42 {
		t.Fatalf("unexpected source id: %d", item.SourceID)
	}
	if item.URL == "" {
		t.Fatalf("expected a resolved URL")
	}
	if item.Title != "Sparse Routing for Mixture-of-Experts Models" {
		t.Fatalf("unexpected title: %q", item.Title)
	}
	if item.Abstract != "We present a sparse routing scheme." {
		t.Fatalf("unexpected abstract: %q", item.Abstract)
	}
	if len(item.Authors) != 2 || item.Authors[0] != "Ada Lovelace" {
		t.Fatalf("unexpected authors: %v", item.Authors)
	}
	if item.PublishedAt == nil || !item.PublishedAt.Equal(time.Date(2026, 8, 28, 17, 59, 2, 0, time.UTC)) {
		t.Fatalf("unexpected published time: %v", item.PublishedAt)
	}
}

func TestParseArxivFeed_InvalidXML(t *testing.T) {
	t.Parallel()

	if _, err := parseArxivFeed([]byte("not xml at <all"), 1); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCollapseFeedWhitespace(t *testing.T) {
	t.Parallel()

	if got := collapseFeedWhitespace("  a\n\tb   c "); got != "a b c" {
		t.Fatalf("unexpected result: %q", got)
	}
}
