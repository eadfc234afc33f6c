// Package market holds the raw market-data shapes that cross the boundary
// from the (out of scope) price feed into the pipeline.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single (symbol, price, ts) observation. Ticks are assumed
// ordered per symbol; cross-symbol order is never assumed (spec §3).
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	TS     time.Time
}

// MonotonicGuard rejects ticks whose timestamp does not strictly advance
// for a given symbol. It keeps no counter of its own; the dispatch lane
// counts rejected ticks in telemetry. It is not safe for concurrent use across symbols sharing a
// guard; the tick dispatcher owns one guard per symbol lane.
type MonotonicGuard struct {
	lastTS time.Time
	seen   bool
}

// Check reports whether ts is a valid successor to the last-seen timestamp.
// On success it advances the guard's watermark.
func (g *MonotonicGuard) Check(ts time.Time) bool {
	if g.seen && !ts.After(g.lastTS) {
		return false
	}
	g.lastTS = ts
	g.seen = true
	return true
}
