package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlane/meanrev/internal/errs"
)

func lot(id string, dir Direction, price float64, ts time.Time) Lot {
	return Lot{
		LotID:      id,
		Symbol:     "BTC-USD",
		Direction:  dir,
		EntryPrice: decimal.NewFromFloat(price),
		EntryTS:    ts,
		Size:       decimal.NewFromInt(1),
		Stage:      StageInit,
	}
}

func TestBookAppendEnforcesUniformDirection(t *testing.T) {
	now := time.Now()
	b := NewBook("BTC-USD", 4)
	require.NoError(t, b.Append(lot("l0", Long, 100, now)))
	err := b.Append(lot("l1", Short, 101, now))
	assert.ErrorIs(t, err, errs.ErrDirectionConflict)
	assert.Equal(t, 1, b.Len())
}

func TestBookAppendEnforcesMaxLots(t *testing.T) {
	now := time.Now()
	b := NewBook("BTC-USD", 4)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Append(lot(string(rune('a'+i)), Long, 100, now)))
	}
	err := b.Append(lot("overflow", Long, 100, now))
	assert.ErrorIs(t, err, errs.ErrMaxLotsExceeded)
	assert.Equal(t, 4, b.Len())
}

func TestBookEmptyAfterAllClosed(t *testing.T) {
	now := time.Now()
	b := NewBook("BTC-USD", 4)
	require.NoError(t, b.Append(lot("l0", Long, 100, now)))
	b.CloseAll()
	assert.True(t, b.Empty())

	// Direction resets once empty, so the opposite side can open next.
	require.NoError(t, b.Append(lot("l1", Short, 100, now)))
	assert.Equal(t, Short, b.Direction())
}

func TestBookOrderingOldestToNewest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBook("BTC-USD", 4)
	require.NoError(t, b.Append(lot("l0", Long, 100, base)))
	require.NoError(t, b.Append(lot("l1", Long, 99, base.Add(time.Minute))))
	require.NoError(t, b.Append(lot("l2", Long, 98, base.Add(2*time.Minute))))

	lots := b.Lots()
	require.Len(t, lots, 3)
	assert.Equal(t, "l0", lots[0].LotID)
	assert.Equal(t, "l2", lots[2].LotID)
	assert.Equal(t, "l0", b.Oldest().LotID)
	assert.Equal(t, "l2", b.Newest().LotID)
}

func TestBookCloseOldestNKeepsRemainingOrder(t *testing.T) {
	base := time.Now()
	b := NewBook("BTC-USD", 4)
	for i, id := range []string{"l0", "l1", "l2", "l3"} {
		require.NoError(t, b.Append(lot(id, Long, 100, base.Add(time.Duration(i)*time.Minute))))
	}
	closed := b.CloseOldestN(2)
	require.Len(t, closed, 2)
	assert.Equal(t, []string{"l0", "l1"}, []string{closed[0].LotID, closed[1].LotID})
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "l2", b.Oldest().LotID)
}

func TestBookAvgEntryPriceSizeWeighted(t *testing.T) {
	now := time.Now()
	b := NewBook("BTC-USD", 4)
	require.NoError(t, b.Append(Lot{LotID: "l0", Direction: Long, EntryPrice: decimal.NewFromInt(100), EntryTS: now, Size: decimal.NewFromInt(1)}))
	require.NoError(t, b.Append(Lot{LotID: "l1", Direction: Long, EntryPrice: decimal.NewFromInt(90), EntryTS: now, Size: decimal.NewFromInt(3)}))

	avg := b.AvgEntryPrice()
	assert.True(t, avg.Equal(decimal.NewFromFloat(92.5)), "got %s", avg)
}

func TestBookPrevEntryPriceIsNewestRemaining(t *testing.T) {
	base := time.Now()
	b := NewBook("BTC-USD", 4)
	require.NoError(t, b.Append(lot("l0", Long, 100, base)))
	require.NoError(t, b.Append(lot("l1", Long, 99, base.Add(time.Minute))))

	price, ok := b.PrevEntryPrice()
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(99)))

	b.CloseNewest()
	price, ok = b.PrevEntryPrice()
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(100)))
}

func TestBookCloseByIDRemovesRegardlessOfPosition(t *testing.T) {
	base := time.Now()
	b := NewBook("BTC-USD", 4)
	require.NoError(t, b.Append(lot("l0", Long, 100, base)))
	require.NoError(t, b.Append(lot("l1", Long, 99, base.Add(time.Minute))))
	require.NoError(t, b.Append(lot("l2", Long, 98, base.Add(2*time.Minute))))

	closed, ok := b.CloseByID("l1")
	require.True(t, ok)
	assert.Equal(t, "l1", closed.LotID)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "l0", b.Oldest().LotID)
	assert.Equal(t, "l2", b.Newest().LotID)
}
