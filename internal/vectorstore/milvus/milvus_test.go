package milvus

import (
	"context"
	"testing"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrirag/internal/domain"
	"agrirag/internal/vectorstore"
)

func TestBuildColumns_RoundTripsThroughUnitAt(t *testing.T) {
	records := []vectorstore.Record{
		{
			Unit: domain.Unit{
				Text:     "Commodity: Onion, Modal Price: 1200 Rs/Quintal",
				Metadata: map[string]any{"state_name": "Maharashtra", "row": float64(0)},
				Origin:   domain.Origin{Source: "prices.csv", Row: 0, Batch: "b1"},
			},
			Vector: []float32{1, 0},
		},
		{
			Unit:   domain.Unit{Text: "Commodity: Tomato", Origin: domain.Origin{Source: "prices.csv", Row: 1, Batch: "b1"}},
			Vector: []float32{0, 1},
		},
	}

	cols, err := buildColumns(records, 2, 100)
	require.NoError(t, err)
	require.Len(t, cols, 7)
	assert.Equal(t, fieldEmbedding, cols[0].Name())
	assert.Equal(t, 2, cols[0].Len())

	u, seq, err := unitAt(cols, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), seq)
	assert.Equal(t, records[0].Unit, u)

	u, seq, err = unitAt(cols, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(101), seq)
	assert.Equal(t, "Commodity: Tomato", u.Text)
	assert.Empty(t, u.Metadata)
	assert.Equal(t, 1, u.Origin.Row)
}

func TestBuildColumns_RejectsWrongDimension(t *testing.T) {
	_, err := buildColumns([]vectorstore.Record{{Vector: []float32{1}}}, 2, 0)
	assert.Error(t, err)
}

func TestUnitAt_BadMetadata(t *testing.T) {
	cols := []column.Column{column.NewColumnVarChar(fieldMetadata, []string{"{"})}
	_, _, err := unitAt(cols, 0)
	assert.Error(t, err)
}

func TestSchemaDimension(t *testing.T) {
	assert.Equal(t, 384, schemaDimension(buildSchema("prices", 384)))
	assert.Zero(t, schemaDimension(nil))
	assert.Zero(t, schemaDimension(entity.NewSchema().WithName("empty")))
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(context.Background(), Config{Collection: "prices"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
