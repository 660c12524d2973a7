package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"agrirag/internal/domain"
	"agrirag/internal/vectorstore"
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

var errNotFound = errors.New("not found")

func NewStorage(cfg Config) (*Storage, error) {
	if cfg.URL == "" || cfg.Collection == "" {
		return nil, domain.Configurationf("qdrant needs url and collection")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type collectionInfo struct {
	Result struct {
		PointsCount int64 `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

// Init creates the collection when missing and otherwise checks its vector size.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	var info collectionInfo
	err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, &info)
	switch {
	case errors.Is(err, errNotFound):
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if have := info.Result.Config.Params.Vectors.Size; have != 0 && have != dimension {
			return domain.Configurationf("qdrant collection %s has dimension %d, embedder produced %d", s.collection, have, dimension)
		}
	}
	s.dimension = dimension
	return nil
}

// Add upserts the batch in a single request so it lands or fails as a whole.
// Callers serialize Add; seq continues from the current point count.
func (s *Storage) Add(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	if s.dimension == 0 {
		return errors.New("qdrant store not initialised")
	}
	for i, r := range records {
		if len(r.Vector) != s.dimension {
			return fmt.Errorf("record %d: vector dimension %d, want %d", i, len(r.Vector), s.dimension)
		}
	}
	base, err := s.Count(ctx)
	if err != nil {
		return err
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":      uuid.NewString(),
			"vector":  r.Vector,
			"payload": payloadOf(r.Unit, base+int64(i)),
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil)
}

func payloadOf(u domain.Unit, seq int64) map[string]any {
	meta := u.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"text":     u.Text,
		"metadata": meta,
		"source":   u.Origin.Source,
		"row":      u.Origin.Row,
		"batch":    u.Origin.Batch,
		"seq":      seq,
	}
}

func unitOf(payload map[string]any) (domain.Unit, int64) {
	var u domain.Unit
	var seq int64
	if v, ok := payload["text"].(string); ok {
		u.Text = v
	}
	if v, ok := payload["metadata"].(map[string]any); ok {
		u.Metadata = v
	}
	if v, ok := payload["source"].(string); ok {
		u.Origin.Source = v
	}
	if v, ok := payload["row"].(float64); ok {
		u.Origin.Row = int(v)
	}
	if v, ok := payload["batch"].(string); ok {
		u.Origin.Batch = v
	}
	if v, ok := payload["seq"].(float64); ok {
		seq = int64(v)
	}
	return u, seq
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp)
	if errors.Is(err, errNotFound) {
		return []domain.Hit{}, nil
	}
	if err != nil {
		return nil, err
	}

	// Qdrant does not order equal scores by insertion; re-rank on seq.
	// Seq comes from the approximate points_count, so concurrent writers
	// may share one and units are looked up by position instead.
	units := make([]domain.Unit, len(resp.Result))
	cands := make([]vectorstore.Scored, 0, len(resp.Result))
	for i, r := range resp.Result {
		u, seq := unitOf(r.Payload)
		units[i] = u
		cands = append(cands, vectorstore.Scored{Seq: seq, Score: r.Score, Pos: i})
	}
	top := vectorstore.TopK(cands, topK)
	results := make([]domain.Hit, 0, len(top))
	for _, c := range top {
		results = append(results, domain.Hit{Unit: units[c.Pos], Score: c.Score})
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int64, error) {
	var info collectionInfo
	err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, &info)
	if errors.Is(err, errNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Result.PointsCount, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) do(ctx context.Context, method, url string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s %s: %w", method, url, errNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

var _ vectorstore.Storage = (*Storage)(nil)
