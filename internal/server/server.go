// Package server exposes ingestion and question answering over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agrirag/internal/ingest"
)

// Ingester adds the units of one uploaded file to the index.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (int, error)
}

// Answerer answers a question, reporting failures inside the text.
type Answerer interface {
	Answer(ctx context.Context, question string) string
}

type Config struct {
	Addr         string
	UploadDir    string
	MaxUploadMB  int
	QueryTimeout time.Duration
	CORSOrigins  []string
	MetricsPath  string
}

type Server struct {
	cfg      Config
	ingester Ingester
	answerer Answerer
	logger   *zap.Logger
	metrics  http.Handler
	engine   *gin.Engine
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts h at Config.MetricsPath.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func New(cfg Config, ing Ingester, ans Answerer, opts ...Option) *Server {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 50
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	s := &Server{cfg: cfg, ingester: ing, answerer: ans, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(recovery(s.logger), requestLogger(s.logger), cors(s.cfg.CORSOrigins))

	r.GET("/", s.handleRoot)
	r.POST("/upload", s.handleUpload)
	r.POST("/query", s.handleQuery)
	if s.metrics != nil {
		r.GET(s.cfg.MetricsPath, gin.WrapH(s.metrics))
	}
	return r
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Agricultural RAG API is running"})
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(s.cfg.MaxUploadMB)<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "multipart field \"file\" is required"})
		return
	}
	name := filepath.Base(fh.Filename)

	path, err := s.saveUpload(fh)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	defer os.Remove(path)

	added, err := s.ingester.Ingest(c.Request.Context(), ingest.Request{Path: path, Source: name})
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "Successfully processed " + name,
		"chunks_added": added,
	})
}

// saveUpload copies the upload to a temp file that keeps the original
// extension, since the reader is chosen by extension.
func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	dir := s.cfg.UploadDir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating upload dir: %w", err)
		}
	}
	dst, err := os.CreateTemp(dir, "upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("saving upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("saving upload: %w", err)
	}
	return dst.Name(), nil
}

type queryRequest struct {
	Question *string `json:"question"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var question *string
	if q, ok := c.GetQuery("question"); ok {
		question = &q
	} else if c.Request.ContentLength != 0 {
		var body queryRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid JSON body: " + err.Error()})
			return
		}
		question = body.Question
	}
	if question == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "field \"question\" is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.QueryTimeout)
	defer cancel()
	c.JSON(http.StatusOK, gin.H{"answer": s.answerer.Answer(ctx, *question)})
}
