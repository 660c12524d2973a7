// Package answer implements retrieval-augmented question answering over the
// index store.
package answer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"agrirag/internal/domain"
	"agrirag/internal/generation"
	"agrirag/internal/metrics"
)

const DefaultK = 5

// Retriever returns the k units closest to text, most similar first.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]domain.Hit, error)
}

// Cache stores answers by question within a generation. The generation
// changes whenever the index grows.
type Cache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, generation int64, question string) (string, bool, error)
	Set(ctx context.Context, generation int64, question, answer string) error
}

// Result is a successful answer with the units it was grounded on.
// Sources is empty for cached answers.
type Result struct {
	Answer  string
	Sources []domain.Hit
	Cached  bool
}

type Answerer struct {
	retriever Retriever
	generator generation.Generator
	k         int
	prompt    Prompt
	cache     Cache
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

type Option func(*Answerer)

func WithK(k int) Option {
	return func(a *Answerer) {
		if k > 0 {
			a.k = k
		}
	}
}

// WithPrompt replaces the prompt; empty fields keep their defaults.
func WithPrompt(p Prompt) Option {
	return func(a *Answerer) {
		if p.System != "" {
			a.prompt.System = p.System
		}
		if p.Template != "" {
			a.prompt.Template = p.Template
		}
	}
}

func WithCache(c Cache) Option {
	return func(a *Answerer) { a.cache = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Answerer) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Answerer) { a.metrics = m }
}

func New(r Retriever, g generation.Generator, opts ...Option) (*Answerer, error) {
	if r == nil || g == nil {
		return nil, domain.Configurationf("answerer needs a retriever and a generator")
	}
	a := &Answerer{
		retriever: r,
		generator: g,
		k:         DefaultK,
		prompt:    DefaultPrompt(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Ask retrieves context for question and generates an answer from it.
// Failures come back as ErrRetrieval or ErrGeneration.
func (a *Answerer) Ask(ctx context.Context, question string) (*Result, error) {
	a.metrics.QueryStarted()
	gen, cacheable := a.generation(ctx)
	if cached, ok := a.cached(ctx, cacheable, gen, question); ok {
		a.metrics.CacheHit()
		return &Result{Answer: cached, Sources: []domain.Hit{}, Cached: true}, nil
	}

	start := time.Now()
	hits, err := a.retriever.Query(ctx, question, a.k)
	if err != nil {
		a.metrics.QueryFailed("retrieval")
		return nil, domain.Wrap(domain.ErrRetrieval, "retrieving context", err)
	}
	a.metrics.Since("retrieval", start)

	start = time.Now()
	text, err := a.generator.Generate(ctx, generation.Request{
		System: a.prompt.System,
		Prompt: a.prompt.Render(BuildContext(hits), question),
	})
	if err != nil {
		a.metrics.QueryFailed("generation")
		return nil, domain.Wrap(domain.ErrGeneration, "generating answer", err)
	}
	a.metrics.Since("generation", start)

	a.logger.Debug("answered question",
		zap.Int("hits", len(hits)),
		zap.String("generator", a.generator.Name()))
	if cacheable {
		if err := a.cache.Set(ctx, gen, question, text); err != nil {
			a.logger.Warn("caching answer", zap.Error(err))
		}
	}
	return &Result{Answer: text, Sources: hits}, nil
}

// generation must be read before retrieval: an answer built from an index
// that an ingest has since extended is then stored under a stale generation.
func (a *Answerer) generation(ctx context.Context) (int64, bool) {
	if a.cache == nil {
		return 0, false
	}
	gen, err := a.cache.Generation(ctx)
	if err != nil {
		a.logger.Warn("reading answer cache generation", zap.Error(err))
		return 0, false
	}
	return gen, true
}

func (a *Answerer) cached(ctx context.Context, cacheable bool, gen int64, question string) (string, bool) {
	if !cacheable {
		return "", false
	}
	v, ok, err := a.cache.Get(ctx, gen, question)
	if err != nil {
		a.logger.Warn("reading answer cache", zap.Error(err))
		return "", false
	}
	return v, ok
}

// Answer always returns text. Errors from Ask are rendered into the answer
// so callers such as the HTTP query endpoint can reply with success.
func (a *Answerer) Answer(ctx context.Context, question string) string {
	res, err := a.Ask(ctx, question)
	if err != nil {
		a.logger.Warn("query failed", zap.Error(err))
		return ErrorAnswer(err)
	}
	return res.Answer
}

// ErrorAnswer is the in-band text for a failed query.
func ErrorAnswer(err error) string {
	return "Error querying RAG: " + err.Error()
}
