package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrirag/internal/domain"
)

func newDefault(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(DefaultPolicy())
	require.NoError(t, err)
	return n
}

func TestNormalize_LabelsAndUnits(t *testing.T) {
	n := newDefault(t)
	row := domain.Row{
		"display_name":  domain.String("Onion"),
		"market_name":   domain.String("Lasalgaon"),
		"state_name":    domain.String("Maharashtra"),
		"modal_price":   domain.Number(2500),
		"min_price":     domain.Number(2100.5),
		"price_unit":    domain.String("Rs/Quintal"),
		"arrival_unit":  domain.String("Tonnes"),
		"latitude":      domain.Number(20.15),
		"unknown_field": domain.String("ignored"),
	}

	unit, ok := n.Normalize(row)
	require.True(t, ok)
	assert.Equal(t,
		"Commodity: Onion, Market: Lasalgaon, State: Maharashtra, Min Price: 2100.5 Rs/Quintal, Modal Price: 2500 Rs/Quintal",
		unit.Text)
	assert.Equal(t, map[string]any{
		"display_name": "Onion",
		"market_name":  "Lasalgaon",
		"state_name":   "Maharashtra",
		"latitude":     20.15,
	}, unit.Metadata)
}

func TestNormalize_NoUnitWhenUnitMissing(t *testing.T) {
	n := newDefault(t)
	unit, ok := n.Normalize(domain.Row{
		"modal_price": domain.Number(1800),
		"price_unit":  domain.Null(),
	})
	require.True(t, ok)
	assert.Equal(t, "Modal Price: 1800", unit.Text)
}

func TestNormalize_SkipsMissingAndBlank(t *testing.T) {
	n := newDefault(t)
	unit, ok := n.Normalize(domain.Row{
		"display_name":  domain.String("Tomato"),
		"variety":       domain.String("   "),
		"category":      domain.Null(),
		"district_name": domain.Number(0),
	})
	require.True(t, ok)
	assert.Equal(t, "Commodity: Tomato, District: 0", unit.Text)
	assert.NotContains(t, unit.Text, "null")
	assert.NotContains(t, unit.Text, "NaN")
	_, hasVariety := unit.Metadata["variety"]
	assert.False(t, hasVariety)
	_, hasCategory := unit.Metadata["category"]
	assert.False(t, hasCategory)
	for k, v := range unit.Metadata {
		assert.NotNil(t, v, "metadata key %s", k)
	}
}

func TestNormalize_AllKnownFieldsMissing(t *testing.T) {
	n := newDefault(t)
	_, ok := n.Normalize(domain.Row{
		"display_name": domain.Null(),
		"latitude":     domain.Number(12.9),
		"comment":      domain.String("not a known field"),
	})
	assert.False(t, ok)

	_, ok = n.Normalize(nil)
	assert.False(t, ok)
}

func TestNormalize_Idempotent(t *testing.T) {
	n := newDefault(t)
	row := domain.Row{
		"display_name": domain.String("Wheat"),
		"market_name":  domain.String("Indore"),
		"modal_price":  domain.Number(2275),
		"price_unit":   domain.String("Rs/Quintal"),
		"longitude":    domain.Number(75.86),
	}
	first, ok1 := n.Normalize(row)
	second, ok2 := n.Normalize(row)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Metadata, second.Metadata)
}

func TestNew_CustomPolicy(t *testing.T) {
	n, err := New(Policy{
		Fields:       []Field{{Column: "item", Label: "Item"}, {Column: "cost", Label: "Cost", UnitColumn: "currency"}},
		MetadataKeys: []string{"item"},
		Separator:    " | ",
	})
	require.NoError(t, err)

	unit, ok := n.Normalize(domain.Row{
		"item":     domain.String("Rice"),
		"cost":     domain.Number(42),
		"currency": domain.String("USD"),
	})
	require.True(t, ok)
	assert.Equal(t, "Item: Rice | Cost: 42 USD", unit.Text)
	assert.Equal(t, map[string]any{"item": "Rice"}, unit.Metadata)
}

func TestNew_InvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{"no fields", Policy{}},
		{"empty column", Policy{Fields: []Field{{Label: "X"}}}},
		{"empty label", Policy{Fields: []Field{{Column: "x"}}}},
		{"duplicate", Policy{Fields: []Field{{Column: "x", Label: "X"}, {Column: "x", Label: "Y"}}}},
		{"reserved key", Policy{Fields: []Field{{Column: "x", Label: "X"}}, MetadataKeys: []string{"row"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.policy)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestPolicy_ReturnsCopy(t *testing.T) {
	n := newDefault(t)
	p := n.Policy()
	p.Fields[0].Label = "Changed"

	unit, ok := n.Normalize(domain.Row{"display_name": domain.String("Onion")})
	require.True(t, ok)
	assert.Equal(t, "Commodity: Onion", unit.Text)
}
