// Package vector talks to a Chroma server over its HTTP API. Only the
// handful of endpoints the pipeline needs are covered: get-or-create
// collection, upsert and query.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultCollection = "ai_progress"

	defaultTimeout = 30 * time.Second
)

type Index struct {
	baseURL      string
	collection   string
	collectionID string
	client       *http.Client
}

// Record is one vector plus the payload stored next to it.
type Record struct {
	ID       string
	Vector   []float32
	Document string
	Metadata map[string]any
}

// Hit is one query result with its cosine distance.
type Hit struct {
	ID       string
	Distance float64
	Document string
	Metadata map[string]any
}

// NewIndex connects to Chroma and resolves the collection, creating it with
// cosine distance if it does not exist yet.
func NewIndex(ctx context.Context, baseURL, collection string) (*Index, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	idx := &Index{
		baseURL:    baseURL,
		collection: collection,
		client:     &http.Client{Timeout: defaultTimeout},
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"name":          i.collection,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
		"get_or_create": true,
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := i.post(ctx, "/api/v1/collections", body, &resp); err != nil {
		return fmt.Errorf("ensure collection %q: %w", i.collection, err)
	}
	if resp.ID == "" {
		return fmt.Errorf("ensure collection %q: server returned no collection id", i.collection)
	}

	i.collectionID = resp.ID
	return nil
}

// Upsert writes records by ID. Re-running the writer for an already indexed
// item overwrites the same entry instead of duplicating it.
func (i *Index) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	documents := make([]string, len(records))
	metadatas := make([]map[string]any, len(records))
	for n, rec := range records {
		ids[n] = rec.ID
		embeddings[n] = rec.Vector
		documents[n] = rec.Document
		metadatas[n] = rec.Metadata
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
	path := fmt.Sprintf("/api/v1/collections/%s/upsert", i.collectionID)
	if err := i.post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("upsert %d records: %w", len(records), err)
	}
	return nil
}

// Query returns the limit nearest records to the given vector.
func (i *Index) Query(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	body := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        limit,
		"include":          []string{"documents", "metadatas", "distances"},
	}

	var resp struct {
		IDs       [][]string         `json:"ids"`
		Distances [][]float64        `json:"distances"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/query", i.collectionID)
	if err := i.post(ctx, path, body, &resp); err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(resp.IDs[0]))
	for n, id := range resp.IDs[0] {
		hit := Hit{ID: id}
		if len(resp.Distances) > 0 && n < len(resp.Distances[0]) {
			hit.Distance = resp.Distances[0][n]
		}
		if len(resp.Documents) > 0 && n < len(resp.Documents[0]) {
			hit.Document = resp.Documents[0][n]
		}
		if len(resp.Metadatas) > 0 && n < len(resp.Metadatas[0]) {
			hit.Metadata = resp.Metadatas[0][n]
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count reports how many records the collection holds.
func (i *Index) Count(ctx context.Context) (int, error) {
	path := fmt.Sprintf("%s/api/v1/collections/%s/count", i.baseURL, i.collectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("build count request: %w", err)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("count collection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("count collection: status %d", resp.StatusCode)
	}

	var count int
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return count, nil
}

func (i *Index) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
