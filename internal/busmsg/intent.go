// Package busmsg defines the wire-level shapes exchanged over the Signal
// Bus and Fill stream (spec §3 Intent/Fill event, §6, §9 "Duck-typed intent
// payloads"). Intents are modeled as a tagged union: the Action discriminant
// plus a concrete, per-variant Payload — never a bag of optional strings.
package busmsg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlane/meanrev/internal/position"
)

// Action enumerates the eleven decisions the Strategy Evaluator can emit.
type Action string

const (
	ActionInit         Action = "INIT"
	ActionInit2        Action = "INIT2"
	ActionInit3        Action = "INIT3"
	ActionScaleIn      Action = "SCALE_IN"
	ActionStopLoss     Action = "STOP_LOSS"
	ActionTakeProfit   Action = "TAKE_PROFIT"
	ActionRiskControl  Action = "RISK_CONTROL"
	ActionNormalExit   Action = "NORMAL_EXIT"
	ActionScaleOut     Action = "SCALE_OUT"
	ActionInitOut      Action = "INIT_OUT"
	ActionNearTouch    Action = "NEAR_TOUCH"
)

// Payload is implemented by each action's variant-specific fields. It
// carries no behavior beyond identifying its Action, so the bus codec can
// round-trip it without reflection tricks.
type Payload interface {
	Action() Action
}

// EntryPayload covers the four actions that open or grow a lot (INIT,
// INIT2, INIT3, SCALE_IN) — they carry no target, since the lot does not
// exist until the fill arrives.
type EntryPayload struct{ action Action }

func (p EntryPayload) Action() Action { return p.action }

// NewEntryPayload builds an EntryPayload for one of the four entry actions.
func NewEntryPayload(a Action) EntryPayload { return EntryPayload{action: a} }

// SingleLotPayload covers actions that close exactly one named lot
// (STOP_LOSS, TAKE_PROFIT target the oldest lot by id at emission time).
type SingleLotPayload struct {
	action      Action
	TargetLotID string
}

func (p SingleLotPayload) Action() Action { return p.action }

// NewSingleLotPayload builds a SingleLotPayload for STOP_LOSS/TAKE_PROFIT.
func NewSingleLotPayload(a Action, lotID string) SingleLotPayload {
	return SingleLotPayload{action: a, TargetLotID: lotID}
}

// NewestLotPayload covers actions that close the book's newest lot without
// needing to name it up front (SCALE_OUT, NEAR_TOUCH, INIT_OUT) — the
// Reconciler resolves "newest" against the book state at fill time.
type NewestLotPayload struct{ action Action }

func (p NewestLotPayload) Action() Action { return p.action }

// NewNewestLotPayload builds a NewestLotPayload.
func NewNewestLotPayload(a Action) NewestLotPayload { return NewestLotPayload{action: a} }

// MultiLotPayload covers actions that close a known set of lots
// (NORMAL_EXIT: all lots; RISK_CONTROL: oldest 1 or all, computed at
// emission time from the book size so the Reconciler does not need to
// re-derive "how many").
type MultiLotPayload struct {
	action     Action
	TargetLots []string
}

func (p MultiLotPayload) Action() Action { return p.action }

// NewMultiLotPayload builds a MultiLotPayload for NORMAL_EXIT/RISK_CONTROL.
func NewMultiLotPayload(a Action, lots []string) MultiLotPayload {
	return MultiLotPayload{action: a, TargetLots: lots}
}

// Intent is one decision emitted by the Strategy Evaluator onto the Signal
// Bus (spec §3).
type Intent struct {
	EventID        string
	Symbol         string
	Action         Action
	Direction      position.Direction
	ReferencePrice decimal.Decimal
	TS             time.Time
	DedupeKey      string
	Payload        Payload

	// MAThrAtEntry is the ma_thr_eff value active when this intent was
	// emitted. Only meaningful for entry actions (INIT/INIT2/INIT3/
	// SCALE_IN); the Reconciler freezes it onto the resulting Lot so later
	// adaptive-threshold changes never move an already-open lot's SL/TP
	// targets (spec §3 "ma_thr_at_entry is frozen at the MA-threshold value
	// active when its intent was emitted").
	MAThrAtEntry decimal.Decimal
}

// DedupeKey computes the stable fingerprint of a logical decision: the same
// (symbol, action, book size, evaluation minute, reference lot) never
// produces two distinct keys, so the Producer's dedupe window can collapse
// repeated evaluations into one publish (spec §4.E, §4.F).
func DedupeKey(symbol string, action Action, bookLen int, now time.Time, refLotID string) string {
	minute := now.Unix() / 60
	raw := fmt.Sprintf("%s|%s|%d|%d|%s", symbol, action, bookLen, minute, refLotID)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}
