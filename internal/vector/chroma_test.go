package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()

	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode collection request: %v", err)
		}
		if body["name"] != "ai_progress" {
			t.Errorf("unexpected collection name: %v", body["name"])
		}
		if body["get_or_create"] != true {
			t.Errorf("expected get_or_create to be set")
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "col-1"})
	})
	mux.HandleFunc("/api/v1/collections/col-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/collections/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ids":       [][]string{{"uuid-a", "uuid-b"}},
			"distances": [][]float64{{0.12, 0.30}},
			"documents": [][]string{{"doc a", "doc b"}},
			"metadatas": [][]map[string]any{{{"title": "A"}, {"title": "B"}}},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &paths
}

func TestNewIndex_ResolvesCollection(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	idx, err := NewIndex(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx.collectionID != "col-1" {
		t.Fatalf("unexpected collection id: %q", idx.collectionID)
	}
}

func TestUpsertAndQuery(t *testing.T) {
	t.Parallel()

	server, paths := newTestServer(t)
	idx, err := NewIndex(context.Background(), server.URL, "ai_progress")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = idx.Upsert(context.Background(), []Record{{
		ID:       "uuid-a",
		Vector:   []float32{0.1, 0.2},
		Document: "doc a",
		Metadata: map[string]any{"title": "A"},
	}})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	hits, err := idx.Query(context.Background(), []float32{0.1, 0.2}, 2)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "uuid-a" || hits[0].Distance != 0.12 {
		t.Fatalf("unexpected first hit: %+v", hits[0])
	}
	if hits[1].Document != "doc b" {
		t.Fatalf("unexpected second hit document: %q", hits[1].Document)
	}

	want := []string{"/api/v1/collections", "/api/v1/collections/col-1/upsert", "/api/v1/collections/col-1/query"}
	if len(*paths) != len(want) {
		t.Fatalf("unexpected request paths: %v", *paths)
	}
	for i, path := range want {
		if (*paths)[i] != path {
			t.Fatalf("request %d hit %q, want %q", i, (*paths)[i], path)
		}
	}
}

func TestUpsert_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	server, paths := newTestServer(t)
	idx, err := NewIndex(context.Background(), server.URL, "ai_progress")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := idx.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("empty upsert failed: %v", err)
	}
	if len(*paths) != 1 {
		t.Fatalf("empty upsert must not hit the server, saw %v", *paths)
	}
}
