// Package source holds the registry of content sources and the fetch
// capabilities behind them. A capability turns one source into a batch of
// raw candidate items; everything downstream of that is source-agnostic.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"signalfold.dev/pulse/internal/db"
)

// ErrFetch wraps any network or parse failure while pulling a source. The
// orchestrator treats it as a per-source outcome: counter bumped, cycle
// ended, other sources untouched.
var ErrFetch = errors.New("source fetch failed")

// RawItem is the transient, per-fetch candidate shape. It never outlives the
// pipeline run that produced it; only items admitted by the dedup gate gain
// a durable record.
type RawItem struct {
	SourceID     int64
	URL          string
	Title        string
	Abstract     string
	Authors      []string
	PublishedAt  *time.Time
	DiscoveredAt time.Time
}

// Capability fetches and parses one source. Implementations must be safe to
// call repeatedly and concurrently across different sources.
type Capability interface {
	Kind() string
	Fetch(ctx context.Context, src db.SourceRow) ([]RawItem, error)
}

// Registry maps source kinds to their capabilities.
type Registry struct {
	capabilities map[string]Capability
}

func NewRegistry(capabilities ...Capability) *Registry {
	r := &Registry{capabilities: make(map[string]Capability, len(capabilities))}
	for _, c := range capabilities {
		r.capabilities[c.Kind()] = c
	}
	return r
}

// Lookup returns the capability for a source kind.
func (r *Registry) Lookup(kind string) (Capability, error) {
	c, ok := r.capabilities[kind]
	if !ok {
		return nil, fmt.Errorf("no capability registered for source kind %q", kind)
	}
	return c, nil
}

// Kinds lists the registered capability keys, sorted for stable output.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.capabilities))
	for kind := range r.capabilities {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
