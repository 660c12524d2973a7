package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrirag/internal/domain"
	"agrirag/internal/vectorstore"
)

func rec(text string, vec ...float32) vectorstore.Record {
	return vectorstore.Record{Unit: domain.Unit{Text: text}, Vector: vec}
}

func TestStorage_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Add(ctx, []vectorstore.Record{
		rec("far", 0, 1),
		rec("near", 1, 0.1),
		rec("tie-first", 1, 1),
		rec("tie-second", 2, 2),
	}))

	hits, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "near", hits[0].Unit.Text)
	assert.Equal(t, "tie-first", hits[1].Unit.Text)
	assert.Equal(t, "tie-second", hits[2].Unit.Text)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestStorage_EmptySearch(t *testing.T) {
	hits, err := NewStorage().Search(context.Background(), []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStorage_AddIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Add(ctx, []vectorstore.Record{rec("ok", 1, 0)}))

	err := s.Add(ctx, []vectorstore.Record{rec("good", 1, 0), rec("bad", 1, 0, 0)})
	require.Error(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStorage_InitDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 3))
	require.NoError(t, s.Init(ctx, 3))
	assert.ErrorIs(t, s.Init(ctx, 4), domain.ErrConfiguration)
	assert.Error(t, s.Init(ctx, 0))
}

func TestStorage_AddBeforeInit(t *testing.T) {
	assert.Error(t, NewStorage().Add(context.Background(), []vectorstore.Record{rec("x", 1)}))
}
