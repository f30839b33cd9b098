package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
)

const (
	webFetchTimeout  = 20 * time.Second
	webBodyByteLimit = 2 * 1024 * 1024
	webUserAgent     = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"
	maxListingItems  = 8
)

// listingSelectors drives extraction of one blog's index page. Selectors are
// the brittle part of any scraper; keeping them as data means a broken site
// is a config fix, not a code change.
type listingSelectors struct {
	Item  string
	Link  string
	Title string
	Blurb string
	Date  string
}

// Known publisher layouts, keyed by source kind.
var selectorsByKind = map[string]listingSelectors{
	"google_blog": {
		Item:  "ul.gdm-pagination__list li.glue-grid__col",
		Link:  "a.glue-card",
		Title: "p.glue-headline--headline-5",
		Blurb: "p.glue-card__description",
		Date:  "time",
	},
	"openai_blog": {
		Item:  "main a[href^='/index/']",
		Link:  "",
		Title: "div.text-h5",
		Blurb: "",
		Date:  "time",
	},
	"generic_blog": {
		Item:  "article",
		Link:  "a",
		Title: "h2, h3",
		Blurb: "p",
		Date:  "time",
	},
}

// WebFeedKinds lists the publisher layouts with known selectors.
func WebFeedKinds() []string {
	kinds := make([]string, 0, len(selectorsByKind))
	for kind := range selectorsByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// WebFeed scrapes publisher index pages with goquery and pulls full article
// text through readability. Requests are paced per host.
type WebFeed struct {
	kind     string
	client   *http.Client
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	fullText bool
}

func NewWebFeed(kind string, client *http.Client, fullText bool) (*WebFeed, error) {
	if _, ok := selectorsByKind[kind]; !ok {
		return nil, fmt.Errorf("no listing selectors for kind %q", kind)
	}
	if client == nil {
		client = &http.Client{Timeout: webFetchTimeout}
	}
	return &WebFeed{
		kind:     kind,
		client:   client,
		limiters: make(map[string]*rate.Limiter),
		fullText: fullText,
	}, nil
}

func (w *WebFeed) Kind() string { return w.kind }

func (w *WebFeed) hostLimiter(host string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	limiter, ok := w.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(2*time.Second), 1)
		w.limiters[host] = limiter
	}
	return limiter
}

// Fetch downloads the source's index page, extracts candidate posts, and
// optionally resolves each post's readable full text.
func (w *WebFeed) Fetch(ctx context.Context, src db.SourceRow) ([]RawItem, error) {
	baseURL, err := url.Parse(strings.TrimSpace(src.FeedURL))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed url %q: %v", ErrFetch, src.FeedURL, err)
	}

	body, err := w.get(ctx, baseURL.String())
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse listing html: %v", ErrFetch, err)
	}

	selectors := selectorsByKind[w.kind]
	now := globaltime.UTC()
	items := make([]RawItem, 0, maxListingItems)

	doc.Find(selectors.Item).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(items) >= maxListingItems {
			return false
		}

		link := sel
		if selectors.Link != "" {
			link = sel.Find(selectors.Link).First()
		}
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		postURL, err := baseURL.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}

		title := collapseFeedWhitespace(sel.Find(selectors.Title).First().Text())
		if title == "" {
			title = collapseFeedWhitespace(link.Text())
		}
		if title == "" {
			return true
		}

		blurb := ""
		if selectors.Blurb != "" {
			blurb = collapseFeedWhitespace(sel.Find(selectors.Blurb).First().Text())
		}

		items = append(items, RawItem{
			SourceID:     src.SourceID,
			URL:          postURL.String(),
			Title:        title,
			Abstract:     blurb,
			PublishedAt:  extractListingDate(sel, selectors.Date),
			DiscoveredAt: now,
		})
		return true
	})

	if w.fullText {
		for i := range items {
			text, err := w.fetchReadableText(ctx, items[i].URL)
			if err != nil {
				// The listing blurb still gives the analyzer something to
				// work with; a single unreadable post is not a cycle failure.
				continue
			}
			items[i].Abstract = text
		}
	}

	return items, nil
}

func (w *WebFeed) get(ctx context.Context, pageURL string) ([]byte, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url %q: %v", ErrFetch, pageURL, err)
	}
	if err := w.hostLimiter(parsed.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: wait for %s request slot: %v", ErrFetch, parsed.Host, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request %s: %v", ErrFetch, pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, parsed.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webBodyByteLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s body: %v", ErrFetch, pageURL, err)
	}
	return body, nil
}

func (w *WebFeed) fetchReadableText(ctx context.Context, pageURL string) (string, error) {
	body, err := w.get(ctx, pageURL)
	if err != nil {
		return "", err
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return "", fmt.Errorf("render readability text: %w", err)
	}

	text := strings.TrimSpace(rendered.String())
	if text == "" {
		return "", fmt.Errorf("reader extracted empty content")
	}
	return text, nil
}

func extractListingDate(sel *goquery.Selection, dateSelector string) *time.Time {
	if dateSelector == "" {
		return nil
	}
	node := sel.Find(dateSelector).First()
	raw, ok := node.Attr("datetime")
	if !ok {
		raw = node.Text()
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "Jan 2, 2006", "January 2, 2006"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}
