package busmsg

import (
	"time"

	"github.com/shopspring/decimal"
)

// FillStatus mirrors the broker's final disposition for one order.
type FillStatus string

const (
	FillStatusFilled   FillStatus = "FILLED"
	FillStatusPartial  FillStatus = "PARTIAL"
	FillStatusRejected FillStatus = "REJECTED"
)

// Fill is the executor-published event that feeds the Fill Reconciler
// (spec §3, §6).
type Fill struct {
	EventID    string
	IntentID   string
	Symbol     string
	LotID      string // optional; the Reconciler does not read it and mints entry lot ids itself
	FillPrice  decimal.Decimal
	FilledSize decimal.Decimal
	TS         time.Time
	Status     FillStatus
}
