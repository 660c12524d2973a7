package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_Text(t *testing.T) {
	assert.Equal(t, "2500", Number(2500).Text())
	assert.Equal(t, "12.5", Number(12.5).Text())
	assert.Equal(t, "0", Number(0).Text())
	assert.Equal(t, "Onion", String("  Onion ").Text())
	assert.Equal(t, "", Null().Text())
}

func TestValue_NaNIsNull(t *testing.T) {
	v := Number(math.NaN())
	assert.True(t, v.IsNull())
	assert.Nil(t, v.Scalar())
}

func TestValue_InfinityIsNull(t *testing.T) {
	assert.True(t, Number(math.Inf(1)).IsNull())
	assert.True(t, Number(math.Inf(-1)).IsNull())
}

func TestValue_IsBlank(t *testing.T) {
	assert.True(t, Null().IsBlank())
	assert.True(t, String("   ").IsBlank())
	assert.False(t, String("x").IsBlank())
	assert.False(t, Number(0).IsBlank())
}

func TestRow_GetMissing(t *testing.T) {
	var r Row
	assert.True(t, r.Get("anything").IsNull())

	r = Row{"a": String("x")}
	assert.True(t, r.Get("b").IsNull())
	assert.Equal(t, "x", r.Get("a").Scalar())
}
