package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrirag/internal/domain"
	"agrirag/internal/vectorstore"
)

func rec(text string, vec ...float32) vectorstore.Record {
	return vectorstore.Record{
		Unit: domain.Unit{
			Text:     text,
			Metadata: map[string]any{"source": "prices.csv", "row": float64(1)},
			Origin:   domain.Origin{Source: "prices.csv", Row: 1, Batch: "b1"},
		},
		Vector: vec,
	}
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Add(ctx, []vectorstore.Record{rec("Commodity: Onion", 1, 0)}))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	require.NoError(t, s.Init(ctx, 2))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hits, err := s.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Commodity: Onion", hits[0].Unit.Text)
	assert.Equal(t, "prices.csv", hits[0].Unit.Metadata["source"])
	assert.Equal(t, float64(1), hits[0].Unit.Metadata["row"])
	assert.Equal(t, domain.Origin{Source: "prices.csv", Row: 1, Batch: "b1"}, hits[0].Unit.Origin)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestStore_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Add(ctx, []vectorstore.Record{
		rec("far", 0, 1),
		rec("near", 1, 0.1),
		rec("tie-first", 1, 1),
	}))
	require.NoError(t, s.Add(ctx, []vectorstore.Record{rec("tie-second", 2, 2)}))

	hits, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "near", hits[0].Unit.Text)
	assert.Equal(t, "tie-first", hits[1].Unit.Text)
	assert.Equal(t, "tie-second", hits[2].Unit.Text)
}

func TestStore_EmptySearch(t *testing.T) {
	s := openStore(t, t.TempDir())
	hits, err := s.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_InitDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	require.NoError(t, s.Init(ctx, 3))
	require.NoError(t, s.Init(ctx, 3))
	assert.ErrorIs(t, s.Init(ctx, 4), domain.ErrConfiguration)
	assert.Error(t, s.Init(ctx, 0))
}

func TestStore_AddIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Add(ctx, []vectorstore.Record{rec("ok", 1, 0)}))

	err := s.Add(ctx, []vectorstore.Record{rec("good", 1, 0), rec("bad")})
	require.Error(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_AddBeforeInit(t *testing.T) {
	s := openStore(t, t.TempDir())
	assert.Error(t, s.Add(context.Background(), []vectorstore.Record{rec("x", 1)}))
}

func TestStore_LockTimeout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir, WithLockTimeout(100*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(ctx, 1))

	other := openStore(t, dir)
	locked, err := other.lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	err = s.Add(ctx, []vectorstore.Record{rec("blocked", 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another append is in progress")

	require.NoError(t, other.lock.Unlock())
	require.NoError(t, s.Add(ctx, []vectorstore.Record{rec("after", 1)}))
	n, err := other.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_OpenRequiresDir(t *testing.T) {
	_, err := Open("")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestFloat32BlobRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
	assert.Nil(t, bytesToFloat32Slice(nil))
}
