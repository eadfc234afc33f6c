// Package position implements the per-symbol Position Book: an ordered
// sequence of Lots with the ownership, ordering and lifecycle guarantees of
// spec §3/§4.C. It has no knowledge of the bus or broker — fills are applied
// to it by the Reconciler, decisions read it via the Strategy Evaluator.
package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the uniform side of a symbol's book.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Stage names the originating intent of a lot.
type Stage string

const (
	StageInit     Stage = "INIT"
	StageInit2    Stage = "INIT2"
	StageInit3    Stage = "INIT3"
	StageScaleIn  Stage = "SCALE_IN"
)

// Lot is a single filled entry, immutable after creation (spec §3).
type Lot struct {
	LotID        string
	Symbol       string
	Direction    Direction
	EntryPrice   decimal.Decimal
	EntryTS      time.Time
	Size         decimal.Decimal
	Stage        Stage
	MAThrAtEntry decimal.Decimal
}

// Age returns now - lot.EntryTS.
func (l Lot) Age(now time.Time) time.Duration {
	return now.Sub(l.EntryTS)
}
