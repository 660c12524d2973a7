// Package indexstore joins an embedder and a vector storage into the
// append/query store the pipelines share.
package indexstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"agrirag/internal/domain"
	"agrirag/internal/embedding"
	"agrirag/internal/vectorstore"
)

const (
	DefaultK         = 5
	defaultBatchSize = 64
)

// Store is safe for concurrent use. Appends are serialized; queries are not.
type Store struct {
	embedder  embedding.Embedder
	storage   vectorstore.Storage
	logger    *zap.Logger
	batchSize int

	writeMu sync.Mutex
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBatchSize caps how many texts go to the embedder per call.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func New(e embedding.Embedder, st vectorstore.Storage, opts ...Option) (*Store, error) {
	if e == nil {
		return nil, domain.Configurationf("index store needs an embedder")
	}
	if st == nil {
		return nil, domain.Configurationf("index store needs a vector storage")
	}
	s := &Store{
		embedder:  e,
		storage:   st,
		logger:    zap.NewNop(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append embeds units and adds them in one storage write. An empty slice
// returns immediately. Nothing is written if any embedding fails.
func (s *Store) Append(ctx context.Context, units []domain.Unit) error {
	if len(units) == 0 {
		return nil
	}
	texts := make([]string, len(units))
	for i, u := range units {
		if strings.TrimSpace(u.Text) == "" {
			return fmt.Errorf("unit %d has empty text", i)
		}
		texts[i] = u.Text
	}

	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return err
	}
	dim := len(vectors[0])
	if declared := s.embedder.Dimension(); declared != 0 && declared != dim {
		return fmt.Errorf("embedder %s declares dimension %d but returned %d", s.embedder.Name(), declared, dim)
	}
	records := make([]vectorstore.Record, len(units))
	for i, u := range units {
		if len(vectors[i]) != dim {
			return fmt.Errorf("embedder returned mixed dimensions %d and %d", dim, len(vectors[i]))
		}
		records[i] = vectorstore.Record{Unit: u, Vector: vectors[i]}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// A write that has started runs to completion even if the caller gives up.
	wctx := context.WithoutCancel(ctx)
	if err := s.storage.Init(wctx, dim); err != nil {
		return err
	}
	if err := s.storage.Add(wctx, records); err != nil {
		return err
	}
	s.logger.Debug("appended units",
		zap.Int("units", len(records)),
		zap.Int("dimension", dim),
		zap.String("embedder", s.embedder.Name()))
	return nil
}

func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := s.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding units %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Query returns up to k units closest to text. k <= 0 means DefaultK.
func (s *Store) Query(ctx context.Context, text string, k int) ([]domain.Hit, error) {
	if k <= 0 {
		k = DefaultK
	}
	vec, err := embedding.EmbedOne(ctx, s.embedder, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	hits, err := s.storage.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	return hits, nil
}

// Count reports how many units are stored.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.storage.Count(ctx)
}

func (s *Store) Close() error {
	return s.storage.Close()
}
