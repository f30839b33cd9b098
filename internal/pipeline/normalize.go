package pipeline

import (
	"crypto/sha256"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"signalfold.dev/pulse/internal/langdetect"
	"signalfold.dev/pulse/internal/source"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
}

// Candidate is a raw item after normalization, ready for the dedup gate.
type Candidate struct {
	SourceID     int64
	CanonicalURL string
	Fingerprint  []byte
	Title        string
	Authors      []string
	Text         string
	Language     string
	PublishedAt  *time.Time
	DiscoveredAt time.Time
}

// Normalize canonicalizes one raw item. Returns false when the item carries
// no usable URL or no text at all; such items are dropped before the gate.
func Normalize(raw source.RawItem) (Candidate, bool) {
	canonical, _ := normalizeURL(raw.URL)
	if canonical == "" {
		return Candidate{}, false
	}

	title := collapseWhitespace(raw.Title)
	text := collapseWhitespace(raw.Abstract)
	if title == "" && text == "" {
		return Candidate{}, false
	}
	if text == "" {
		text = title
	}

	authors := make([]string, 0, len(raw.Authors))
	for _, a := range raw.Authors {
		if name := collapseWhitespace(a); name != "" {
			authors = append(authors, name)
		}
	}

	language := langdetect.DetectISO6391(title + " " + text)
	if language == "" {
		language = "und"
	}

	return Candidate{
		SourceID:     raw.SourceID,
		CanonicalURL: canonical,
		Fingerprint:  Fingerprint(title, text),
		Title:        title,
		Authors:      authors,
		Text:         text,
		Language:     language,
		PublishedAt:  raw.PublishedAt,
		DiscoveredAt: raw.DiscoveredAt,
	}, true
}

// Fingerprint hashes the case-folded title and text. The URL is deliberately
// left out: the same content republished under a different address must
// produce the same bytes so the dedup gate catches it.
func Fingerprint(title, text string) []byte {
	folded := strings.ToLower(title) + "\n" + strings.ToLower(text)
	sum := sha256.Sum256([]byte(folded))
	return sum[:]
}

// AuthorsJSON encodes the author list for the jsonb column.
func AuthorsJSON(authors []string) json.RawMessage {
	if len(authors) == 0 {
		return json.RawMessage(`[]`)
	}
	encoded, err := json.Marshal(authors)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return encoded
}

func collapseWhitespace(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func normalizeURL(raw string) (canonical string, host string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", ""
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			parsed.Host = parsed.Host + ":" + port
		}
	}

	parsed.Fragment = ""
	path := strings.TrimSpace(parsed.EscapedPath())
	if path == "" {
		path = "/"
	}
	path = strings.ReplaceAll(path, "//", "/")
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	parsed.Path = path
	parsed.RawPath = ""

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	if len(q) > 0 {
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		reordered := url.Values{}
		for _, key := range keys {
			values := q[key]
			sort.Strings(values)
			for _, value := range values {
				reordered.Add(key, value)
			}
		}
		parsed.RawQuery = reordered.Encode()
	} else {
		parsed.RawQuery = ""
	}

	return parsed.String(), parsed.Hostname()
}
