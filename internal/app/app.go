// Package app assembles the configured components into a running system.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"agrirag/internal/answer"
	"agrirag/internal/cache"
	"agrirag/internal/config"
	"agrirag/internal/domain"
	"agrirag/internal/embedding"
	"agrirag/internal/embedding/hashing"
	openaiembed "agrirag/internal/embedding/openai"
	"agrirag/internal/generation"
	openaigen "agrirag/internal/generation/openai"
	"agrirag/internal/indexstore"
	"agrirag/internal/ingest"
	"agrirag/internal/metrics"
	"agrirag/internal/normalizer"
	"agrirag/internal/server"
	"agrirag/internal/vectorstore"
	"agrirag/internal/vectorstore/memory"
	"agrirag/internal/vectorstore/milvus"
	"agrirag/internal/vectorstore/qdrant"
	"agrirag/internal/vectorstore/sqlite"
)

// App holds the wired components. It satisfies the server and TUI ports.
type App struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store    *indexstore.Store
	cache    *cache.Cache
	pipeline *ingest.Pipeline
	answerer *answer.Answerer
}

// New builds every component named in cfg. The generator is built even for
// ingest-only commands, so a missing API key fails early.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg.Generator)
	if err != nil {
		return nil, err
	}
	st, err := newStorage(ctx, cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	logger.Info("components assembled",
		zap.String("embedder", emb.Name()),
		zap.String("generator", gen.Name()),
		zap.String("vector_store", cfg.VectorStore.Type))

	a.store, err = indexstore.New(emb, st,
		indexstore.WithLogger(logger.Named("indexstore")),
		indexstore.WithBatchSize(cfg.Ingest.EmbedBatchSize))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if cfg.Cache.Enabled {
		c, err := newCache(ctx, cfg.Cache)
		if err != nil {
			// The cache is an optimisation; answering works without it.
			logger.Warn("answer cache disabled", zap.Error(err))
		} else {
			a.cache = c
		}
	}

	norm, err := normalizer.New(*cfg.Normalizer)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	ingestOpts := []ingest.Option{
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithLogger(logger.Named("ingest")),
		ingest.WithMetrics(a.metrics),
	}
	answerOpts := []answer.Option{
		answer.WithK(cfg.Retrieval.TopK),
		answer.WithPrompt(answer.Prompt{System: cfg.Retrieval.System, Template: cfg.Retrieval.Prompt}),
		answer.WithLogger(logger.Named("answer")),
		answer.WithMetrics(a.metrics),
	}
	if a.cache != nil {
		ingestOpts = append(ingestOpts, ingest.WithInvalidator(a.cache))
		answerOpts = append(answerOpts, answer.WithCache(a.cache))
	}
	if a.pipeline, err = ingest.New(a.store, norm, ingestOpts...); err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.answerer, err = answer.New(a.store, gen, answerOpts...); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func newEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Type {
	case "hashing":
		dim := 0
		if cfg.Hashing != nil {
			dim = cfg.Hashing.Dimension
		}
		return hashing.New(dim), nil
	case "openai", "":
		if cfg.OpenAI == nil {
			return nil, domain.Configurationf("openai embedder config missing")
		}
		return openaiembed.NewClient(openaiembed.Config{
			BaseURL:       cfg.OpenAI.BaseURL,
			APIKeyEnv:     cfg.OpenAI.APIKeyEnv,
			Model:         cfg.OpenAI.Model,
			Timeout:       time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			BatchSize:     cfg.OpenAI.BatchSize,
			AllowEmptyKey: cfg.OpenAI.AllowEmptyKey,
		})
	default:
		return nil, domain.Configurationf("unknown embedder: %s", cfg.Type)
	}
}

func newGenerator(cfg config.GeneratorConfig) (generation.Generator, error) {
	switch cfg.Type {
	case "openai", "":
		if cfg.OpenAI == nil {
			return nil, domain.Configurationf("openai generator config missing")
		}
		return openaigen.NewClient(openaigen.Config{
			BaseURL:       cfg.OpenAI.BaseURL,
			APIKeyEnv:     cfg.OpenAI.APIKeyEnv,
			Model:         cfg.OpenAI.Model,
			Temperature:   cfg.OpenAI.Temperature,
			Timeout:       time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			AllowEmptyKey: cfg.OpenAI.AllowEmptyKey,
		})
	default:
		return nil, domain.Configurationf("unknown generator: %s", cfg.Type)
	}
}

func newStorage(ctx context.Context, cfg config.VectorStoreConfig) (vectorstore.Storage, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "sqlite", "":
		return sqlite.Open(cfg.PersistDir, sqlite.WithLockTimeout(time.Duration(cfg.LockTimeoutSecs)*time.Second))
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, domain.Configurationf("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     envOrEmpty(cfg.Qdrant.APIKeyEnv),
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		})
	case "milvus":
		if cfg.Milvus == nil {
			return nil, domain.Configurationf("milvus config missing")
		}
		return milvus.New(ctx, milvus.Config{
			Address:    cfg.Milvus.Address,
			Username:   cfg.Milvus.Username,
			Password:   envOrEmpty(cfg.Milvus.PasswordEnv),
			Database:   cfg.Milvus.Database,
			Collection: cfg.Milvus.Collection,
			Timeout:    time.Duration(cfg.Milvus.TimeoutSecs) * time.Second,
		})
	default:
		return nil, domain.Configurationf("unknown vector store: %s", cfg.Type)
	}
}

func newCache(ctx context.Context, cfg config.CacheConfig) (*cache.Cache, error) {
	return cache.New(ctx, cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: envOrEmpty(cfg.Redis.PasswordEnv),
		DB:       cfg.Redis.DB,
		Prefix:   cfg.KeyPrefix,
		TTL:      time.Duration(cfg.TTLSecs) * time.Second,
	})
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Ingest runs the ingestion pipeline.
func (a *App) Ingest(ctx context.Context, req ingest.Request) (int, error) {
	return a.pipeline.Ingest(ctx, req)
}

// Ask answers question, returning failures as errors.
func (a *App) Ask(ctx context.Context, question string) (*answer.Result, error) {
	return a.answerer.Ask(ctx, question)
}

// Answer answers question, reporting failures inside the returned text.
func (a *App) Answer(ctx context.Context, question string) string {
	return a.answerer.Answer(ctx, question)
}

// Count returns the number of indexed units.
func (a *App) Count(ctx context.Context) (int64, error) {
	return a.store.Count(ctx)
}

// QueryTimeout bounds a single question.
func (a *App) QueryTimeout() time.Duration {
	return time.Duration(a.cfg.Server.QueryTimeoutSecs) * time.Second
}

// MetricsHandler exposes the app registry in the Prometheus text format.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// Server builds the HTTP surface over this app.
func (a *App) Server() *server.Server {
	s := a.cfg.Server
	opts := []server.Option{server.WithLogger(a.logger.Named("http"))}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(a.MetricsHandler()))
	}
	uploadDir := s.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "agrirag-uploads")
	}
	return server.New(server.Config{
		Addr:         s.Addr,
		UploadDir:    uploadDir,
		MaxUploadMB:  s.MaxUploadMB,
		QueryTimeout: time.Duration(s.QueryTimeoutSecs) * time.Second,
		CORSOrigins:  s.CORSOrigins,
		MetricsPath:  a.cfg.Metrics.Path,
	}, a, a, opts...)
}

// Close releases the store and the cache connection.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing index store: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cache: %w", err))
		}
	}
	return errors.Join(errs...)
}
