package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrirag/internal/domain"
	"agrirag/internal/embedding/hashing"
	"agrirag/internal/indexstore"
	"agrirag/internal/metrics"
	"agrirag/internal/normalizer"
	"agrirag/internal/vectorstore/memory"
	"agrirag/internal/vectorstore/sqlite"
)

type recordingStore struct {
	calls [][]domain.Unit
	err   error
}

func (s *recordingStore) Append(_ context.Context, units []domain.Unit) error {
	s.calls = append(s.calls, units)
	return s.err
}

type clearCounter struct{ n int }

func (c *clearCounter) Clear(context.Context) error {
	c.n++
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newPipeline(t *testing.T, store Appender, opts ...Option) *Pipeline {
	t.Helper()
	n, err := normalizer.New(normalizer.DefaultPolicy())
	require.NoError(t, err)
	p, err := New(store, n, opts...)
	require.NoError(t, err)
	return p
}

const threeRows = `display_name,market_name,modal_price
Onion,Lasalgaon,1200
Tomato,Kolar,800
Potato,Agra,950
`

func TestIngest_ThreeRowCSV(t *testing.T) {
	store := &recordingStore{}
	path := writeFile(t, "prices.csv", threeRows)

	added, err := newPipeline(t, store).Ingest(context.Background(), Request{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	require.Len(t, store.calls, 1)

	units := store.calls[0]
	require.Len(t, units, 3)
	for i, want := range [][2]string{{"Onion", "Lasalgaon"}, {"Tomato", "Kolar"}, {"Potato", "Agra"}} {
		assert.Contains(t, units[i].Text, "Commodity: "+want[0])
		assert.Contains(t, units[i].Text, "Market: "+want[1])
		assert.Equal(t, "prices.csv", units[i].Metadata["source"])
		assert.Equal(t, float64(i), units[i].Metadata["row"])
		assert.Equal(t, "prices.csv", units[i].Origin.Source)
		assert.Equal(t, i, units[i].Origin.Row)
	}
	assert.Equal(t, "Commodity: Onion, Market: Lasalgaon, Modal Price: 1200", units[0].Text)
	assert.NotEmpty(t, units[0].Origin.Batch)
	assert.Equal(t, units[0].Origin.Batch, units[2].Origin.Batch)
}

func TestIngest_SkipsRowsWithoutKnownFields(t *testing.T) {
	store := &recordingStore{}
	path := writeFile(t, "prices.csv", `display_name,market_name,modal_price,notes
Onion,Lasalgaon,1200,
,,NA,only notes here
Tomato,Kolar,800,
`)
	added, err := newPipeline(t, store).Ingest(context.Background(), Request{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	require.Len(t, store.calls, 1)
	assert.Equal(t, 2, store.calls[0][1].Origin.Row)
}

func TestIngest_ZeroUnitsSkipsStore(t *testing.T) {
	store := &recordingStore{}
	cache := &clearCounter{}
	path := writeFile(t, "empty.csv", "notes,comment\nfoo,bar\n")

	added, err := newPipeline(t, store, WithInvalidator(cache)).Ingest(context.Background(), Request{Path: path})
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Empty(t, store.calls)
	assert.Zero(t, cache.n)
}

func TestIngest_RowLimit(t *testing.T) {
	store := &recordingStore{}
	path := writeFile(t, "prices.csv", threeRows)

	added, err := newPipeline(t, store).Ingest(context.Background(), Request{Path: path, RowLimit: 2, Source: "upload.csv"})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, "upload.csv", store.calls[0][0].Metadata["source"])

	_, err = newPipeline(t, store).Ingest(context.Background(), Request{Path: path, RowLimit: -1})
	assert.ErrorIs(t, err, domain.ErrIngestion)
	assert.Len(t, store.calls, 1)
}

func TestIngest_UnsupportedFormat(t *testing.T) {
	store := &recordingStore{}
	path := writeFile(t, "prices.json", "{}")

	_, err := newPipeline(t, store).Ingest(context.Background(), Request{Path: path})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.NotErrorIs(t, err, domain.ErrIngestion)
	assert.Empty(t, store.calls)
}

func TestIngest_ReadFailureIsIngestionError(t *testing.T) {
	store := &recordingStore{}
	_, err := newPipeline(t, store).Ingest(context.Background(), Request{Path: filepath.Join(t.TempDir(), "missing.csv")})
	assert.ErrorIs(t, err, domain.ErrIngestion)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, store.calls)
}

func TestIngest_AppendFailure(t *testing.T) {
	path := writeFile(t, "prices.csv", threeRows)

	_, err := newPipeline(t, &recordingStore{err: errors.New("disk full")}).Ingest(context.Background(), Request{Path: path})
	assert.ErrorIs(t, err, domain.ErrIngestion)

	_, err = newPipeline(t, &recordingStore{err: domain.Configurationf("no key")}).Ingest(context.Background(), Request{Path: path})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.NotErrorIs(t, err, domain.ErrIngestion)
}

func TestIngest_UpdatesMetricsAndClearsCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	cache := &clearCounter{}
	path := writeFile(t, "prices.csv", threeRows)

	p := newPipeline(t, &recordingStore{}, WithMetrics(metrics.New(reg)), WithInvalidator(cache), WithWorkers(2))
	_, err := p.Ingest(context.Background(), Request{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.n)

	families, err := reg.Gather()
	require.NoError(t, err)
	var units float64
	for _, mf := range families {
		if mf.GetName() == "agrirag_units_ingested_total" {
			units = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 3.0, units)
}

func TestIngest_KeepsSourceOrderAcrossWorkers(t *testing.T) {
	content := "display_name\n"
	for i := 0; i < 3*rowsPerTask+7; i++ {
		content += "Commodity" + string(rune('A'+i%26)) + "\n"
	}
	store := &recordingStore{}
	path := writeFile(t, "many.csv", content)

	added, err := newPipeline(t, store, WithWorkers(3)).Ingest(context.Background(), Request{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 3*rowsPerTask+7, added)
	for i, u := range store.calls[0] {
		require.Equal(t, i, u.Origin.Row)
	}
}

func TestIngest_ThenQueryTwoUnits(t *testing.T) {
	ctx := context.Background()
	store, err := indexstore.New(hashing.New(0), memory.NewStorage())
	require.NoError(t, err)
	path := writeFile(t, "two.csv", "display_name,market_name\nOnion,Lasalgaon\nTomato,Kolar\n")

	added, err := newPipeline(t, store).Ingest(ctx, Request{Path: path})
	require.NoError(t, err)
	require.Equal(t, 2, added)

	hits, err := store.Query(ctx, "onion market", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestIngest_InfinityCellsStayText(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	store, err := indexstore.New(hashing.New(0), st)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	path := writeFile(t, "odd.csv", "display_name,market_name,variety,modal_price\n"+
		"Onion,Lasalgaon,Infinity,inf\n"+
		"Tomato,Kolar,Hybrid,800\n")

	added, err := newPipeline(t, store).Ingest(ctx, Request{Path: path})
	require.NoError(t, err)
	require.Equal(t, 2, added)

	hits, err := store.Query(ctx, "onion lasalgaon", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	var onion domain.Unit
	for _, h := range hits {
		if h.Unit.Metadata["display_name"] == "Onion" {
			onion = h.Unit
		}
	}
	assert.Contains(t, onion.Text, "Variety: Infinity")
	assert.Contains(t, onion.Text, "Modal Price: inf")
	assert.Equal(t, "Infinity", onion.Metadata["variety"])
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
