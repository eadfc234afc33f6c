// Package reconcile implements the Fill Reconciler (spec §4.H): the single
// place that turns a broker Fill into a Position Book mutation and clears
// the cooldown that was blocking re-evaluation while the order was in
// flight. It never talks to the bus or the broker directly — callers hand
// it the Fill plus the Intent it resolves, both already pulled off their
// respective streams.
package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/config"
	"github.com/quantlane/meanrev/internal/cooldown"
	"github.com/quantlane/meanrev/internal/errs"
	"github.com/quantlane/meanrev/internal/position"
)

// Apply mutates book and cds to reflect fill, which resolves intent
// (matched by fill.IntentID == intent.EventID by the caller). It reports
// quarantined=true when the fill cannot be applied without violating a book
// invariant (spec §7 "late fill after timeout": apply unless doing so would
// violate an invariant, otherwise quarantine and alert) — the caller is
// expected to log the fill to the quarantine store and leave the book
// untouched for that case.
func Apply(now time.Time, fill busmsg.Fill, intent busmsg.Intent, book *position.Book, cds *cooldown.Registry, cfg config.Config) (quarantined bool, err error) {
	if fill.Status == busmsg.FillStatusRejected {
		cds.ClearPendingIntent(intent.EventID)
		return false, fmt.Errorf("%w: %s", errs.ErrBrokerRejected, intent.Action)
	}

	switch intent.Action {
	case busmsg.ActionInit, busmsg.ActionInit2, busmsg.ActionInit3, busmsg.ActionScaleIn:
		lot := position.Lot{
			LotID:        uuid.NewString(),
			Symbol:       fill.Symbol,
			Direction:    intent.Direction,
			EntryPrice:   fill.FillPrice,
			EntryTS:      fill.TS,
			Size:         fill.FilledSize,
			Stage:        stageFor(intent.Action),
			MAThrAtEntry: intent.MAThrAtEntry,
		}
		if err := book.Append(lot); err != nil {
			cds.ClearPendingIntent(intent.EventID)
			return true, err
		}
		cds.ClearPendingIntent(intent.EventID)
		if intent.Action == busmsg.ActionScaleIn {
			cds.ArmScaleIn(fill.TS, cfg.ScaleInCooldown)
		}
		return false, nil

	case busmsg.ActionStopLoss, busmsg.ActionTakeProfit:
		p, ok := intent.Payload.(busmsg.SingleLotPayload)
		if !ok {
			return true, fmt.Errorf("%w: %s payload", errs.ErrBadInput, intent.Action)
		}
		if _, ok := book.CloseByID(p.TargetLotID); !ok {
			cds.ClearPendingIntent(intent.EventID)
			return true, fmt.Errorf("%w: lot %s", errs.ErrUnknownLot, p.TargetLotID)
		}
		cds.ClearPendingIntent(intent.EventID)
		return false, nil

	case busmsg.ActionScaleOut, busmsg.ActionNearTouch, busmsg.ActionInitOut:
		if book.Empty() {
			cds.ClearPendingIntent(intent.EventID)
			return true, fmt.Errorf("%w: book empty on %s fill", errs.ErrUnknownLot, intent.Action)
		}
		book.CloseNewest()
		cds.ClearPendingIntent(intent.EventID)
		if intent.Action == busmsg.ActionScaleOut {
			cds.ArmScaleOut(fill.TS, cfg.ScaleoutCooldown)
		}
		return false, nil

	case busmsg.ActionNormalExit:
		book.CloseAll()
		cds.ClearPendingIntent(intent.EventID)
		return false, nil

	case busmsg.ActionRiskControl:
		p, ok := intent.Payload.(busmsg.MultiLotPayload)
		if !ok {
			return true, fmt.Errorf("%w: %s payload", errs.ErrBadInput, intent.Action)
		}
		if len(p.TargetLots) <= 1 {
			book.CloseOldestN(1)
		} else {
			book.CloseAll()
		}
		cds.ClearPendingIntent(intent.EventID)
		return false, nil

	default:
		return true, fmt.Errorf("%w: unknown action %s", errs.ErrBadInput, intent.Action)
	}
}

func stageFor(a busmsg.Action) position.Stage {
	switch a {
	case busmsg.ActionInit2:
		return position.StageInit2
	case busmsg.ActionInit3:
		return position.StageInit3
	case busmsg.ActionScaleIn:
		return position.StageScaleIn
	default:
		return position.StageInit
	}
}
