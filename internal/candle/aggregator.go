// Package candle folds a per-symbol tick stream into fixed-width OHLC
// candles (spec §4.A). One Aggregator instance is owned by exactly one
// symbol lane; it performs no locking of its own.
package candle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one symbol's OHLC bar for a fixed bucket.
type Candle struct {
	Symbol      string
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	NTicks      int
}

// Aggregator maintains the single open candle for one symbol.
type Aggregator struct {
	symbol string
	period time.Duration
	open   *Candle
}

// New returns an Aggregator with the given bucket width (spec default 60s).
func New(symbol string, period time.Duration) *Aggregator {
	return &Aggregator{symbol: symbol, period: period}
}

// bucketStart floors ts to the start of its period-wide bucket.
func (a *Aggregator) bucketStart(ts time.Time) time.Time {
	return ts.Truncate(a.period)
}

// OnTick folds price p observed at ts into the open candle, closing and
// returning any candles that complete as a result — including synthetic
// flat candles for buckets skipped entirely by a gap in ticks (spec 4.A:
// "start new buckets for every skipped minute, propagating previous close
// as flat OHLC"). Closed candles are returned oldest-first.
func (a *Aggregator) OnTick(p decimal.Decimal, ts time.Time) []Candle {
	bs := a.bucketStart(ts)

	if a.open == nil {
		a.open = &Candle{
			Symbol:      a.symbol,
			BucketStart: bs,
			Open:        p,
			High:        p,
			Low:         p,
			Close:       p,
			NTicks:      1,
		}
		return nil
	}

	if !bs.After(a.open.BucketStart) {
		// Same bucket: update running OHLC.
		a.updateOpen(p)
		return nil
	}

	var closed []Candle
	prevClose := a.open.Close
	closed = append(closed, *a.open)

	// Emit flat synthetic candles for every fully skipped bucket between
	// the one just closed and the one this tick belongs to.
	for cursor := a.open.BucketStart.Add(a.period); cursor.Before(bs); cursor = cursor.Add(a.period) {
		closed = append(closed, Candle{
			Symbol:      a.symbol,
			BucketStart: cursor,
			Open:        prevClose,
			High:        prevClose,
			Low:         prevClose,
			Close:       prevClose,
			NTicks:      0,
		})
	}

	a.open = &Candle{
		Symbol:      a.symbol,
		BucketStart: bs,
		Open:        p,
		High:        p,
		Low:         p,
		Close:       p,
		NTicks:      1,
	}
	return closed
}

func (a *Aggregator) updateOpen(p decimal.Decimal) {
	if p.GreaterThan(a.open.High) {
		a.open.High = p
	}
	if p.LessThan(a.open.Low) {
		a.open.Low = p
	}
	a.open.Close = p
	a.open.NTicks++
}

// WorkingPrice returns the close of the currently open (not yet closed)
// candle, used as the intra-minute evaluation price (spec §3 "last-close
// price is kept... as the working price" — here it is simply the live
// candle's running close).
func (a *Aggregator) WorkingPrice() (decimal.Decimal, bool) {
	if a.open == nil {
		return decimal.Zero, false
	}
	return a.open.Close, true
}
