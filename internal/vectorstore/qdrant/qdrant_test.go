package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragapi/internal/domain"
)

// fakeQdrant serves the handful of endpoints the client uses.
type fakeQdrant struct {
	mu     sync.Mutex
	size   int
	points map[string]map[string]any
	apiKey string
	wait   string
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKey = r.Header.Get("api-key")

	path := strings.TrimPrefix(r.URL.Path, "/collections/kb")
	exists := f.points != nil
	switch {
	case path == "" && r.Method == http.MethodGet:
		if !exists {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size}}}}})
	case path == "" && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.size = body.Vectors.Size
		f.points = map[string]map[string]any{}
		writeJSON(w, map[string]any{"result": true})
	case path == "" && r.Method == http.MethodDelete:
		if !exists {
			http.NotFound(w, r)
			return
		}
		f.points = nil
		writeJSON(w, map[string]any{"result": true})
	case !exists:
		http.NotFound(w, r)
	case path == "/points" && r.Method == http.MethodPost:
		var body struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var found []map[string]any
		for _, id := range body.IDs {
			if _, ok := f.points[id]; ok {
				found = append(found, map[string]any{"id": id})
			}
		}
		writeJSON(w, map[string]any{"result": found})
	case path == "/points" && r.Method == http.MethodPut:
		f.wait = r.URL.Query().Get("wait")
		var body struct {
			Points []map[string]any `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p["id"].(string)] = p
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	case path == "/points/count":
		writeJSON(w, map[string]any{"result": map[string]any{"count": len(f.points)}})
	case path == "/points/search":
		var hits []map[string]any
		for id, p := range f.points {
			hits = append(hits, map[string]any{"id": id, "score": 0.75, "payload": p["payload"]})
		}
		writeJSON(w, map[string]any{"result": hits})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func (f *fakeQdrant) headers() (apiKey, wait string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apiKey, f.wait
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestStorage(t *testing.T) (*Storage, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "kb"}), fake
}

func TestStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "missing collection counts as empty")

	require.NoError(t, s.Init(ctx, 2))

	units := []domain.Unit{
		{ID: "6f1c1b8e-0000-5000-8000-000000000001", SourceID: "doc", Index: 0, Text: "The sky is blue.", Embedding: []float32{1, 0}},
		{ID: "6f1c1b8e-0000-5000-8000-000000000002", SourceID: "doc", Index: 1, Text: "Paris is in France.", Embedding: []float32{0, 1}},
	}
	created, err := s.Upsert(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	apiKey, wait := fake.headers()
	assert.Equal(t, "secret", apiKey)
	assert.Equal(t, "true", wait)

	created, err = s.Upsert(ctx, units[:1])
	require.NoError(t, err)
	assert.Zero(t, created)

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	matches, err := s.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, "doc", m.SourceID)
		assert.NotEmpty(t, m.Text)
		assert.InDelta(t, 0.75, m.Score, 1e-9)
	}
}

func TestStorage_InitDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	require.NoError(t, s.Init(ctx, 4))
	assert.NoError(t, s.Init(ctx, 4))
	assert.ErrorIs(t, s.Init(ctx, 8), domain.ErrDimensionMismatch)
}

func TestStorage_Reset(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	require.NoError(t, s.Reset(ctx), "dropping a missing collection is fine")

	require.NoError(t, s.Init(ctx, 2))
	_, err := s.Upsert(ctx, []domain.Unit{{ID: "a", Embedding: []float32{1, 0}}})
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStorage_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	s := NewStorage(Config{URL: srv.URL, Collection: "kb"})

	_, err := s.Upsert(context.Background(), []domain.Unit{{ID: "a", Embedding: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
