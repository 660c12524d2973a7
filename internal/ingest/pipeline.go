// Package ingest turns tabular source files into units in the index store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agrirag/internal/domain"
	"agrirag/internal/metrics"
	"agrirag/internal/normalizer"
	"agrirag/internal/tabular"
)

const (
	defaultWorkers = 4
	rowsPerTask    = 256
)

// Appender receives each ingest's units in a single call.
type Appender interface {
	Append(ctx context.Context, units []domain.Unit) error
}

// Invalidator drops derived state that a new ingest makes stale.
type Invalidator interface {
	Clear(ctx context.Context) error
}

type Request struct {
	Path string
	// Source names the file in provenance; defaults to the base name of Path.
	Source string
	// RowLimit caps the rows read. Zero reads everything.
	RowLimit int
}

type Pipeline struct {
	store      Appender
	normalizer *normalizer.Normalizer
	workers    int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	cache      Invalidator
	open       func(path string) (tabular.Reader, error)
}

type Option func(*Pipeline)

func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithInvalidator clears c after every ingest that added units.
func WithInvalidator(c Invalidator) Option {
	return func(p *Pipeline) { p.cache = c }
}

func New(store Appender, n *normalizer.Normalizer, opts ...Option) (*Pipeline, error) {
	if store == nil || n == nil {
		return nil, domain.Configurationf("ingest pipeline needs a store and a normalizer")
	}
	p := &Pipeline{
		store:      store,
		normalizer: n,
		workers:    defaultWorkers,
		logger:     zap.NewNop(),
		open:       tabular.Open,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest reads req.Path, normalizes every row and appends the resulting
// units in one call. It returns the number of units added.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (int, error) {
	n, err := p.ingest(ctx, req)
	if err != nil {
		p.metrics.IngestFailed(failureKind(err))
		p.logger.Warn("ingest failed", zap.String("path", req.Path), zap.Error(err))
	}
	return n, err
}

func (p *Pipeline) ingest(ctx context.Context, req Request) (int, error) {
	start := time.Now()
	if req.RowLimit < 0 {
		return 0, domain.Wrap(domain.ErrIngestion, "validating request", fmt.Errorf("row limit must be positive, got %d", req.RowLimit))
	}
	source := req.Source
	if source == "" {
		source = filepath.Base(req.Path)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(req.Path)), ".")

	reader, err := p.open(req.Path)
	if err != nil {
		return 0, err
	}
	rows, err := reader.Read(ctx, req.Path, req.RowLimit)
	if err != nil {
		return 0, domain.Wrap(domain.ErrIngestion, "reading "+source, err)
	}

	units, err := p.normalize(ctx, rows, source)
	if err != nil {
		return 0, domain.Wrap(domain.ErrIngestion, "normalizing "+source, err)
	}
	skipped := len(rows) - len(units)

	if len(units) == 0 {
		p.metrics.ObserveIngest(format, len(rows), skipped, 0)
		p.logger.Info("no units to ingest", zap.String("source", source), zap.Int("rows", len(rows)))
		return 0, nil
	}

	if err := p.store.Append(ctx, units); err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return 0, err
		}
		return 0, domain.Wrap(domain.ErrIngestion, "appending units from "+source, err)
	}

	p.metrics.ObserveIngest(format, len(rows), skipped, len(units))
	p.metrics.Since("ingest", start)
	if p.cache != nil {
		if err := p.cache.Clear(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("clearing answer cache", zap.Error(err))
		}
	}
	p.logger.Info("ingested source",
		zap.String("source", source),
		zap.Int("rows", len(rows)),
		zap.Int("skipped", skipped),
		zap.Int("units", len(units)),
		zap.Duration("took", time.Since(start)))
	return len(units), nil
}

// normalize runs the normalizer over rows on a bounded worker pool and
// returns the produced units in source order.
func (p *Pipeline) normalize(ctx context.Context, rows []domain.Row, source string) ([]domain.Unit, error) {
	batch := uuid.NewString()
	out := make([]domain.Unit, len(rows))
	ok := make([]bool, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for lo := 0; lo < len(rows); lo += rowsPerTask {
		hi := lo + rowsPerTask
		if hi > len(rows) {
			hi = len(rows)
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				u, produced := p.normalizer.Normalize(rows[i])
				if !produced {
					continue
				}
				u.Metadata[normalizer.MetaSource] = source
				u.Metadata[normalizer.MetaRow] = float64(i)
				u.Origin = domain.Origin{Source: source, Row: i, Batch: batch}
				out[i], ok[i] = u, true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	units := make([]domain.Unit, 0, len(rows))
	for i := range out {
		if ok[i] {
			units = append(units, out[i])
		}
	}
	return units, nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	default:
		return "ingestion"
	}
}
