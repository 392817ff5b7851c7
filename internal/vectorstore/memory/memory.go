package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ragapi/internal/domain"
	"ragapi/internal/vectorstore/similarity"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// Units keep their first insertion position, which breaks score ties.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	units     []domain.Unit
	byID      map[string]int
}

func NewStorage() *Storage { return &Storage{byID: make(map[string]int)} }

// Init fixes the store's dimension. Re-initialising with the same dimension
// keeps existing units.
func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension && len(s.units) > 0 {
		return fmt.Errorf("%w: store holds %d, got %d", domain.ErrDimensionMismatch, s.dimension, dimension)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(_ context.Context, units []domain.Unit) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return 0, fmt.Errorf("%w: store not initialised", domain.ErrCollectionMissing)
	}
	for _, u := range units {
		if len(u.Embedding) != s.dimension {
			return 0, fmt.Errorf("%w: store holds %d, got %d", domain.ErrDimensionMismatch, s.dimension, len(u.Embedding))
		}
	}
	created := 0
	for _, u := range units {
		if pos, ok := s.byID[u.ID]; ok {
			s.units[pos] = u
			continue
		}
		s.byID[u.ID] = len(s.units)
		s.units = append(s.units, u)
		created++
	}
	return created, nil
}

func (s *Storage) Search(_ context.Context, vector []float32, topK int) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.units) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: store holds %d, got %d", domain.ErrDimensionMismatch, s.dimension, len(vector))
	}
	matches := make([]domain.Match, len(s.units))
	for i, u := range s.units {
		score, err := similarity.Cosine(u.Embedding, vector)
		if err != nil {
			return nil, err
		}
		matches[i] = domain.Match{ID: u.ID, SourceID: u.SourceID, Index: u.Index, Text: u.Text, Score: score}
	}
	return similarity.TopK(matches, topK), nil
}

func (s *Storage) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units), nil
}

// Reset drops every unit and forgets the dimension.
func (s *Storage) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = nil
	s.byID = make(map[string]int)
	s.dimension = 0
	return nil
}

func (s *Storage) Close() error { return nil }
