package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrirag/internal/config"
	"agrirag/internal/domain"
	"agrirag/internal/ingest"
)

const prices = `display_name,market_name,modal_price
Onion,Lasalgaon,1200
Tomato,Kolar,800
Potato,Agra,950
`

type fakeChat struct {
	server *httptest.Server
	calls  atomic.Int32
}

func newFakeChat(t *testing.T) *fakeChat {
	t.Helper()
	f := &fakeChat{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": " Onion is 1200. "}}},
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func testConfig(t *testing.T, chatURL string) *config.AppConfig {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	cfg.Embedder.Type = "hashing"
	cfg.Embedder.OpenAI = nil
	cfg.VectorStore.Type = "memory"
	cfg.Generator.OpenAI.BaseURL = chatURL
	cfg.Generator.OpenAI.APIKeyEnv = "AGRIRAG_TEST_KEY"
	cfg.Generator.OpenAI.AllowEmptyKey = true
	return cfg
}

func writePrices(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(prices), 0o644))
	return path
}

func TestApp_IngestThenAsk(t *testing.T) {
	chat := newFakeChat(t)
	cfg := testConfig(t, chat.server.URL)
	cfg.Metrics.Enabled = true

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	added, err := a.Ingest(ctx, ingest.Request{Path: writePrices(t)})
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	res, err := a.Ask(ctx, "What is the modal price of onion?")
	require.NoError(t, err)
	assert.Equal(t, "Onion is 1200.", res.Answer)
	assert.Len(t, res.Sources, 3)

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agrirag_units_ingested_total{format=\"csv\"} 3")
}

func TestApp_AnswerCacheInvalidatedByIngest(t *testing.T) {
	mr := miniredis.RunT(t)
	chat := newFakeChat(t)
	cfg := testConfig(t, chat.server.URL)
	cfg.Cache.Enabled = true
	cfg.Cache.Redis.Addr = mr.Addr()

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	_, err = a.Ingest(ctx, ingest.Request{Path: writePrices(t)})
	require.NoError(t, err)

	first, err := a.Ask(ctx, "onion?")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	second, err := a.Ask(ctx, "onion?")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.EqualValues(t, 1, chat.calls.Load())

	_, err = a.Ingest(ctx, ingest.Request{Path: writePrices(t)})
	require.NoError(t, err)
	third, err := a.Ask(ctx, "onion?")
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.EqualValues(t, 2, chat.calls.Load())
}

func TestApp_UnreachableCacheIsSkipped(t *testing.T) {
	chat := newFakeChat(t)
	cfg := testConfig(t, chat.server.URL)
	cfg.Cache.Enabled = true
	cfg.Cache.Redis.Addr = "127.0.0.1:1"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Nil(t, a.cache)
	assert.Equal(t, "Onion is 1200.", a.Answer(context.Background(), "onion?"))
}

func TestApp_PersistsAcrossRestarts(t *testing.T) {
	chat := newFakeChat(t)
	cfg := testConfig(t, chat.server.URL)
	cfg.VectorStore.Type = "sqlite"
	cfg.VectorStore.PersistDir = filepath.Join(t.TempDir(), "db")

	ctx := context.Background()
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = a.Ingest(ctx, ingest.Request{Path: writePrices(t)})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestApp_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AppConfig)
	}{
		{"unknown store", func(c *config.AppConfig) { c.VectorStore.Type = "chroma" }},
		{"missing generator key", func(c *config.AppConfig) { c.Generator.OpenAI.AllowEmptyKey = false }},
		{"missing embedder key", func(c *config.AppConfig) {
			c.Embedder.Type = "openai"
			c.Embedder.OpenAI = &config.OpenAIEmbedderConfig{APIKeyEnv: "AGRIRAG_TEST_KEY"}
		}},
		{"qdrant without section", func(c *config.AppConfig) { c.VectorStore.Type = "qdrant" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AGRIRAG_TEST_KEY", "")
			cfg := testConfig(t, "http://127.0.0.1:1")
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, nil)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}
