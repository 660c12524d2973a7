package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"agrirag/internal/domain"
	"agrirag/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	units     []domain.Unit
}

// NewStorage returns an empty in-memory store.
func NewStorage() *Storage { return &Storage{} }

// Init fixes the vector dimension. Calling it again with the same
// dimension keeps existing contents.
func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		return domain.Configurationf("memory store has dimension %d, embedder produced %d", s.dimension, dimension)
	}
	s.dimension = dimension
	return nil
}

// Add validates the whole batch before appending any of it.
func (s *Storage) Add(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return errors.New("memory store not initialised")
	}
	for i, r := range records {
		if len(r.Vector) != s.dimension {
			return fmt.Errorf("record %d: vector dimension %d, want %d", i, len(r.Vector), s.dimension)
		}
	}
	for _, r := range records {
		s.units = append(s.units, r.Unit)
		s.vectors = append(s.vectors, append([]float32(nil), r.Vector...))
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	cands := make([]vectorstore.Scored, len(s.vectors))
	for i := range s.vectors {
		cands[i] = vectorstore.Scored{Seq: int64(i), Score: vectorstore.Cosine(s.vectors[i], vector)}
	}
	top := vectorstore.TopK(cands, topK)
	results := make([]domain.Hit, 0, len(top))
	for _, c := range top {
		results = append(results, domain.Hit{Unit: s.units[c.Seq], Score: c.Score})
	}
	return results, nil
}

func (s *Storage) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.units)), nil
}

func (s *Storage) Close() error { return nil }

var _ vectorstore.Storage = (*Storage)(nil)
