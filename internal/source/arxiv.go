package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
)

const (
	arxivAPIBase      = "http://export.arxiv.org/api/query"
	defaultArxivQuery = "cat:cs.LG OR cat:cs.AI OR cat:cs.CL OR cat:cs.CV OR cat:cs.RO"
	arxivMaxResults   = 50
)

// Arxiv pulls recent papers through the arXiv Atom API. arXiv asks clients
// to stay under one request every three seconds, enforced here with a
// shared limiter.
type Arxiv struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxResults int
}

func NewArxiv(client *http.Client) *Arxiv {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Arxiv{
		client:     client,
		limiter:    rate.NewLimiter(rate.Every(3*time.Second), 1),
		maxResults: arxivMaxResults,
	}
}

func (a *Arxiv) Kind() string { return "arxiv" }

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []arxivAuthor `xml:"author"`
	Links     []arxivLink   `xml:"link"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Rel   string `xml:"rel,attr"`
}

// Fetch queries the Atom API sorted by submission date. The source's feed
// URL may carry a custom search query in its `q` parameter; otherwise the
// default AI category filter applies.
func (a *Arxiv) Fetch(ctx context.Context, src db.SourceRow) ([]RawItem, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: wait for arxiv request slot: %v", ErrFetch, err)
	}

	query := defaultArxivQuery
	if parsed, err := url.Parse(src.FeedURL); err == nil {
		if custom := strings.TrimSpace(parsed.Query().Get("q")); custom != "" {
			query = custom
		}
	}

	params := url.Values{}
	params.Set("search_query", query)
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	params.Set("max_results", strconv.Itoa(a.maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build arxiv request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", "pulse/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request arxiv feed: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: arxiv returned %s", ErrFetch, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read arxiv response: %v", ErrFetch, err)
	}

	return parseArxivFeed(body, src.SourceID)
}

func parseArxivFeed(body []byte, sourceID int64) ([]RawItem, error) {
	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%w: decode arxiv atom feed: %v", ErrFetch, err)
	}

	now := globaltime.UTC()
	items := make([]RawItem, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		itemURL := strings.TrimSpace(entry.ID)
		for _, link := range entry.Links {
			if link.Title == "pdf" || link.Rel == "alternate" {
				if href := strings.TrimSpace(link.Href); href != "" {
					itemURL = href
					break
				}
			}
		}
		if itemURL == "" {
			continue
		}

		authors := make([]string, 0, len(entry.Authors))
		for _, author := range entry.Authors {
			if name := strings.TrimSpace(author.Name); name != "" {
				authors = append(authors, name)
			}
		}

		var publishedAt *time.Time
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(entry.Published)); err == nil {
			utc := ts.UTC()
			publishedAt = &utc
		}

		items = append(items, RawItem{
			SourceID:     sourceID,
			URL:          itemURL,
			Title:        collapseFeedWhitespace(entry.Title),
			Abstract:     collapseFeedWhitespace(entry.Summary),
			Authors:      authors,
			PublishedAt:  publishedAt,
			DiscoveredAt: now,
		})
	}
	return items, nil
}

func collapseFeedWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
