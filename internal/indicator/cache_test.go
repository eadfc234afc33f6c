package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheUndefinedBeforeFull(t *testing.T) {
	c := New(100, 3)
	var snap Snapshot
	for i := 0; i < 99; i++ {
		snap = c.Push(decimal.NewFromInt(100))
	}
	assert.False(t, snap.Defined)
}

func TestCacheMA100IsMeanOfLastCloses(t *testing.T) {
	c := New(3, 3)
	c.Push(decimal.NewFromInt(10))
	c.Push(decimal.NewFromInt(20))
	snap := c.Push(decimal.NewFromInt(30))

	require.True(t, snap.Defined)
	assert.True(t, snap.MA.Equal(decimal.NewFromInt(20)))
}

func TestCacheDropsOldestOnceAtCapacity(t *testing.T) {
	c := New(3, 3)
	c.Push(decimal.NewFromInt(10))
	c.Push(decimal.NewFromInt(20))
	c.Push(decimal.NewFromInt(30))
	snap := c.Push(decimal.NewFromInt(60)) // drops the 10

	assert.True(t, snap.MA.Equal(decimal.NewFromInt(110).Div(decimal.NewFromInt(3))))
}

func TestCacheMomentumRequiresWindowPlusOne(t *testing.T) {
	c := New(100, 3)
	for i := 0; i < 3; i++ {
		snap := c.Push(decimal.NewFromInt(100))
		assert.False(t, snap.HasMom)
	}
	snap := c.Push(decimal.NewFromInt(110))
	assert.True(t, snap.HasMom)
	assert.True(t, snap.Mom.Equal(decimal.NewFromFloat(0.1)))
}
