// Package chroma stores units in a Chroma server over its v1 REST API.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ragapi/internal/domain"
)

var errNotFound = errors.New("chroma: collection does not exist")

type Config struct {
	Host       string
	Port       int
	Collection string
	Timeout    time.Duration
}

// Storage talks to one Chroma collection configured for cosine distance.
// The collection's dimension is kept in its metadata.
type Storage struct {
	base       string
	collection string
	client     *http.Client

	mu sync.Mutex
	id string
}

var _ domain.VectorStore = (*Storage)(nil)

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	base := cfg.Host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if cfg.Port != 0 {
		base = fmt.Sprintf("%s:%d", base, cfg.Port)
	}
	return &Storage{
		base:       strings.TrimRight(base, "/") + "/api/v1",
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

type collectionInfo struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	req := map[string]any{
		"name": s.collection,
		"metadata": map[string]any{
			"hnsw:space": "cosine",
			"dimension":  dimension,
		},
		"get_or_create": true,
	}
	var info collectionInfo
	if err := s.do(ctx, http.MethodPost, "/collections", req, &info); err != nil {
		return err
	}
	if existing, ok := info.Metadata["dimension"].(float64); ok && int(existing) != dimension {
		return fmt.Errorf("%w: collection %s holds %d, got %d", domain.ErrDimensionMismatch, s.collection, int(existing), dimension)
	}
	s.mu.Lock()
	s.id = info.ID
	s.mu.Unlock()
	return nil
}

// collectionID resolves the collection's ID, looking it up by name when Init
// has not run in this process.
func (s *Storage) collectionID(ctx context.Context) (string, error) {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	if id != "" {
		return id, nil
	}
	var info collectionInfo
	if err := s.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(s.collection), nil, &info); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.id = info.ID
	s.mu.Unlock()
	return info.ID, nil
}

func (s *Storage) Upsert(ctx context.Context, units []domain.Unit) (int, error) {
	if len(units) == 0 {
		return 0, nil
	}
	id, err := s.collectionID(ctx)
	if err != nil {
		return 0, s.writeError("resolving collection", err)
	}
	ids := make([]string, len(units))
	embeddings := make([][]float32, len(units))
	documents := make([]string, len(units))
	metadatas := make([]map[string]any, len(units))
	for i, u := range units {
		ids[i] = u.ID
		embeddings[i] = u.Embedding
		documents[i] = u.Text
		metadatas[i] = map[string]any{"source_id": u.SourceID, "index": u.Index}
	}

	var existing struct {
		IDs []string `json:"ids"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+id+"/get", map[string]any{"ids": ids, "include": []string{}}, &existing); err != nil {
		return 0, s.writeError("looking up existing ids", err)
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+id+"/upsert", body, nil); err != nil {
		return 0, s.writeError("upserting", err)
	}
	return len(units) - len(existing.IDs), nil
}

// forget drops the cached collection ID so the next call looks it up again.
func (s *Storage) forget() {
	s.mu.Lock()
	s.id = ""
	s.mu.Unlock()
}

// writeError reports a vanished collection as ErrCollectionMissing and
// drops the stale ID.
func (s *Storage) writeError(op string, err error) error {
	if errors.Is(err, errNotFound) {
		s.forget()
		return fmt.Errorf("%s: %w: %s", op, domain.ErrCollectionMissing, s.collection)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Search converts Chroma's cosine distance back to similarity.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.Match, error) {
	id, err := s.collectionID(ctx)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	req := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        topK,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+id+"/query", req, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			s.forget()
			return nil, nil
		}
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	matches := make([]domain.Match, len(resp.IDs[0]))
	for i, unitID := range resp.IDs[0] {
		m := domain.Match{ID: unitID}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			m.Text = resp.Documents[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			m.Score = 1 - resp.Distances[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			md := resp.Metadatas[0][i]
			if v, ok := md["source_id"].(string); ok {
				m.SourceID = v
			}
			if v, ok := md["index"].(float64); ok {
				m.Index = int(v)
			}
		}
		matches[i] = m
	}
	return matches, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	id, err := s.collectionID(ctx)
	if errors.Is(err, errNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.do(ctx, http.MethodGet, "/collections/"+id+"/count", nil, &n); err != nil {
		if errors.Is(err, errNotFound) {
			s.forget()
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (s *Storage) Reset(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, "/collections/"+url.PathEscape(s.collection), nil, nil)
	if err != nil && !errors.Is(err, errNotFound) {
		return err
	}
	s.forget()
	return nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// Older servers answer a missing collection with 500 and a message.
		if resp.StatusCode == http.StatusNotFound || strings.Contains(string(msg), "does not exist") {
			return errNotFound
		}
		return fmt.Errorf("chroma %s %s failed: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
