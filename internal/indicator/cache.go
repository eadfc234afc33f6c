// Package indicator maintains, per symbol, the rolling window of closed
// candle closes needed to compute MA100 and the 3-minute momentum figure
// (spec §4.B) without rescanning history on every candle close.
package indicator

import (
	"github.com/shopspring/decimal"
)

// Snapshot is the indicator state usable by the Strategy Evaluator. MA and
// Mom are only Defined once enough closed candles have accumulated.
type Snapshot struct {
	MA      decimal.Decimal
	Mom     decimal.Decimal
	Defined bool // MA100 ready (>= period closes)
	HasMom  bool // momentum ready (>= window+1 closes)
}

// Cache is a fixed-capacity ring buffer of closed candle closes for one
// symbol, plus the incrementally maintained MA/momentum.
type Cache struct {
	period int
	window int // momentum window (candles back), spec default 3

	closes []decimal.Decimal // ring, oldest first once full
	cap    int
	sum    decimal.Decimal
}

// New returns a Cache for the given MA period and momentum window.
func New(period, window int) *Cache {
	return &Cache{
		period: period,
		window: window,
		closes: make([]decimal.Decimal, 0, period),
		cap:    period,
		sum:    decimal.Zero,
	}
}

// Push folds a newly closed candle's close price into the ring, dropping
// the oldest entry once the ring is at capacity, and returns the refreshed
// snapshot (spec: "On candle close: push close, drop oldest, compute
// ma100... compute mom3").
func (c *Cache) Push(close decimal.Decimal) Snapshot {
	if len(c.closes) == c.cap {
		c.sum = c.sum.Sub(c.closes[0])
		c.closes = c.closes[1:]
	}
	c.closes = append(c.closes, close)
	c.sum = c.sum.Add(close)

	return c.Snapshot()
}

// Snapshot returns the current indicator state without mutating it.
func (c *Cache) Snapshot() Snapshot {
	n := len(c.closes)
	snap := Snapshot{}
	if n >= c.period {
		snap.MA = c.sum.DivRound(decimal.NewFromInt(int64(n)), 16)
		snap.Defined = true
	}
	if n >= c.window+1 {
		cur := c.closes[n-1]
		prev := c.closes[n-1-c.window]
		if !prev.IsZero() {
			snap.Mom = cur.Sub(prev).Div(prev)
			snap.HasMom = true
		}
	}
	return snap
}

// Len reports how many closed candles have been accumulated so far (capped
// at the ring's capacity).
func (c *Cache) Len() int { return len(c.closes) }
