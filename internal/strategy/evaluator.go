// Package strategy implements the Strategy Evaluator (spec §4.E): a pure,
// deterministic function over (market state, position book, cooldowns,
// configuration) producing at most one intent per tick. Rule order encodes
// the priority table in spec §4.E — the first guard that holds wins and all
// following rules are skipped for that tick.
package strategy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/config"
	"github.com/quantlane/meanrev/internal/cooldown"
	"github.com/quantlane/meanrev/internal/indicator"
	"github.com/quantlane/meanrev/internal/position"
)

// half is used for the ma_thr_eff/2 gates (rules 6, 7, 8).
func half(d decimal.Decimal) decimal.Decimal { return d.Div(decimal.NewFromInt(2)) }

func pct(base decimal.Decimal, frac float64) decimal.Decimal {
	return base.Mul(decimal.NewFromFloat(frac))
}

// Decide evaluates one tick. It returns (nil, nil) when no rule fires —
// including when MA100/mom3 are not yet defined, or when a pending_intent
// cooldown is already blocking this symbol (spec §4.E precondition).
//
// On a firing rule, Decide also installs the pending_intent cooldown on cds
// (spec: "a pending_intent cooldown is installed") — Decide is the single
// place that both decides and reserves, so callers cannot forget to arm it.
func Decide(
	symbol string,
	price decimal.Decimal,
	snap indicator.Snapshot,
	book *position.Book,
	cds *cooldown.Registry,
	cfg config.Config,
	now time.Time,
) (*busmsg.Intent, error) {
	if !snap.Defined || !snap.HasMom {
		return nil, nil
	}
	if cds.PendingActive(now) {
		return nil, nil
	}

	ma := snap.MA
	mom := snap.Mom
	thr := cfg.MAThrEff

	// ---- 1. STOP_LOSS on oldest ----
	if !book.Empty() {
		l := book.Oldest()
		af := ageFactor(l.Age(now))
		slPct := l.MAThrAtEntry.Mul(decimal.NewFromFloat(af))
		var trigger bool
		if l.Direction == position.Long {
			trigger = price.LessThanOrEqual(l.EntryPrice.Mul(decimal.NewFromInt(1).Sub(slPct)))
		} else {
			trigger = price.GreaterThanOrEqual(l.EntryPrice.Mul(decimal.NewFromInt(1).Add(slPct)))
		}
		if trigger {
			return fire(symbol, busmsg.ActionStopLoss, book.Direction(), price, now, book.Len(), l.LotID,
				busmsg.NewSingleLotPayload(busmsg.ActionStopLoss, l.LotID), cds, cfg)
		}
	}

	// ---- 2. TAKE_PROFIT on oldest ----
	if !book.Empty() {
		l := book.Oldest()
		af := ageFactor(l.Age(now))
		tpPct := l.MAThrAtEntry.Mul(decimal.NewFromFloat(af))
		var trigger bool
		if l.Direction == position.Long {
			trigger = price.GreaterThanOrEqual(l.EntryPrice.Mul(decimal.NewFromInt(1).Add(tpPct)))
		} else {
			trigger = price.LessThanOrEqual(l.EntryPrice.Mul(decimal.NewFromInt(1).Sub(tpPct)))
		}
		if trigger {
			return fire(symbol, busmsg.ActionTakeProfit, book.Direction(), price, now, book.Len(), l.LotID,
				busmsg.NewSingleLotPayload(busmsg.ActionTakeProfit, l.LotID), cds, cfg)
		}
	}

	// ---- 3. NORMAL_EXIT (full flat) ----
	if !book.Empty() {
		var trigger bool
		if book.Direction() == position.Long {
			trigger = price.GreaterThanOrEqual(ma.Mul(decimal.NewFromInt(1).Add(thr)))
		} else {
			trigger = price.LessThanOrEqual(ma.Mul(decimal.NewFromInt(1).Sub(thr)))
		}
		if trigger {
			ids := lotIDs(book.Lots())
			return fire(symbol, busmsg.ActionNormalExit, book.Direction(), price, now, book.Len(), "",
				busmsg.NewMultiLotPayload(busmsg.ActionNormalExit, ids), cds, cfg)
		}
	}

	// ---- 4. RISK_CONTROL ----
	if n := book.Len(); n == 3 || n == 4 {
		avg := book.AvgEntryPrice()
		var favorable bool
		if book.Direction() == position.Long {
			favorable = price.GreaterThanOrEqual(avg.Mul(decimal.NewFromInt(1).Add(cfg.RiskControlThreshold)))
		} else {
			favorable = price.LessThanOrEqual(avg.Mul(decimal.NewFromInt(1).Sub(cfg.RiskControlThreshold)))
		}
		if favorable {
			lots := book.Lots()
			var ids []string
			if n == 3 {
				ids = []string{lots[0].LotID}
			} else {
				ids = lotIDs(lots)
			}
			return fire(symbol, busmsg.ActionRiskControl, book.Direction(), price, now, book.Len(), "",
				busmsg.NewMultiLotPayload(busmsg.ActionRiskControl, ids), cds, cfg)
		}
	}

	// ---- 5. NEAR_TOUCH ----
	if !book.Empty() {
		newest := book.Newest()
		if newest.Age(now) <= cfg.NearTouchWindow {
			diff := price.Sub(ma).Abs()
			eps := ma.Mul(cfg.NearTouchEps).Abs()
			if diff.LessThanOrEqual(eps) {
				return fire(symbol, busmsg.ActionNearTouch, book.Direction(), price, now, book.Len(), newest.LotID,
					busmsg.NewNewestLotPayload(busmsg.ActionNearTouch), cds, cfg)
			}
		}
	}

	// ---- 6. SCALE_OUT (newest) ----
	if !book.Empty() && !cds.ScaleOutActive(now) {
		prevEntry, _ := book.PrevEntryPrice()
		var trigger bool
		if book.Direction() == position.Long {
			trigger = price.GreaterThanOrEqual(prevEntry) && price.GreaterThanOrEqual(ma.Mul(decimal.NewFromInt(1).Add(half(thr))))
		} else {
			trigger = price.LessThanOrEqual(prevEntry) && price.LessThanOrEqual(ma.Mul(decimal.NewFromInt(1).Sub(half(thr))))
		}
		if trigger {
			newest := book.Newest()
			return fire(symbol, busmsg.ActionScaleOut, book.Direction(), price, now, book.Len(), newest.LotID,
				busmsg.NewNewestLotPayload(busmsg.ActionScaleOut), cds, cfg)
		}
	}

	// ---- 7. INIT_OUT ----
	if book.Len() == 1 {
		l := book.Oldest()
		var trigger bool
		if l.Direction == position.Long {
			trigger = price.GreaterThanOrEqual(ma.Mul(decimal.NewFromInt(1).Add(half(thr)))) && mom.GreaterThanOrEqual(cfg.MomentumThreshold)
		} else {
			trigger = price.LessThanOrEqual(ma.Mul(decimal.NewFromInt(1).Sub(half(thr)))) && mom.Neg().GreaterThanOrEqual(cfg.MomentumThreshold)
		}
		if trigger {
			return fire(symbol, busmsg.ActionInitOut, l.Direction, price, now, book.Len(), l.LotID,
				busmsg.NewNewestLotPayload(busmsg.ActionInitOut), cds, cfg)
		}
	}

	// ---- 8. SCALE_IN ----
	if book.Len() >= 1 && book.Len() < cfg.MaxLots && !cds.ScaleInActive(now) {
		newest := book.Newest()
		var trigger bool
		if book.Direction() == position.Long {
			trigger = price.LessThan(newest.EntryPrice) &&
				mom.Neg().GreaterThanOrEqual(cfg.MomentumThreshold) &&
				price.LessThanOrEqual(ma.Mul(decimal.NewFromInt(1).Sub(half(thr))))
		} else {
			trigger = price.GreaterThan(newest.EntryPrice) &&
				mom.GreaterThanOrEqual(cfg.MomentumThreshold) &&
				price.GreaterThanOrEqual(ma.Mul(decimal.NewFromInt(1).Add(half(thr))))
		}
		if trigger {
			return fire(symbol, busmsg.ActionScaleIn, book.Direction(), price, now, book.Len(), newest.LotID,
				busmsg.NewEntryPayload(busmsg.ActionScaleIn), cds, cfg)
		}
	}

	// ---- 9. INIT2 / INIT3 ----
	if book.Len() >= 1 {
		initLot := book.Oldest()
		if initLot.Age(now) <= cfg.InitWindow {
			n := book.Len()
			dir := initLot.Direction
			switch {
			case n == 1 && initLot.Stage == position.StageInit:
				var gate decimal.Decimal
				if dir == position.Long {
					gate = initLot.EntryPrice.Mul(decimal.NewFromInt(1).Sub(thr))
				} else {
					gate = initLot.EntryPrice.Mul(decimal.NewFromInt(1).Add(thr))
				}
				var trigger bool
				if dir == position.Long {
					trigger = price.LessThanOrEqual(gate)
				} else {
					trigger = price.GreaterThanOrEqual(gate)
				}
				if trigger {
					return fire(symbol, busmsg.ActionInit2, dir, price, now, book.Len(), initLot.LotID,
						busmsg.NewEntryPayload(busmsg.ActionInit2), cds, cfg)
				}
			case n == 2 && book.Newest().Stage == position.StageInit2:
				twoThr := thr.Mul(decimal.NewFromInt(2))
				var gate decimal.Decimal
				if dir == position.Long {
					gate = initLot.EntryPrice.Mul(decimal.NewFromInt(1).Sub(twoThr))
				} else {
					gate = initLot.EntryPrice.Mul(decimal.NewFromInt(1).Add(twoThr))
				}
				var trigger bool
				if dir == position.Long {
					trigger = price.LessThanOrEqual(gate)
				} else {
					trigger = price.GreaterThanOrEqual(gate)
				}
				if trigger {
					return fire(symbol, busmsg.ActionInit3, dir, price, now, book.Len(), initLot.LotID,
						busmsg.NewEntryPayload(busmsg.ActionInit3), cds, cfg)
				}
			}
		}
	}

	// ---- 10. INIT ----
	if book.Empty() {
		longTrigger := price.LessThanOrEqual(ma.Mul(decimal.NewFromInt(1).Sub(thr))) && mom.Neg().GreaterThanOrEqual(cfg.MomentumThreshold)
		shortTrigger := price.GreaterThanOrEqual(ma.Mul(decimal.NewFromInt(1).Add(thr))) && mom.GreaterThanOrEqual(cfg.MomentumThreshold)
		switch {
		case longTrigger:
			return fire(symbol, busmsg.ActionInit, position.Long, price, now, 0, "",
				busmsg.NewEntryPayload(busmsg.ActionInit), cds, cfg)
		case shortTrigger:
			return fire(symbol, busmsg.ActionInit, position.Short, price, now, 0, "",
				busmsg.NewEntryPayload(busmsg.ActionInit), cds, cfg)
		}
	}

	return nil, nil
}

// fire builds the Intent, arms the pending_intent cooldown, and returns it.
func fire(
	symbol string,
	action busmsg.Action,
	dir position.Direction,
	price decimal.Decimal,
	now time.Time,
	bookLen int,
	refLotID string,
	payload busmsg.Payload,
	cds *cooldown.Registry,
	cfg config.Config,
) (*busmsg.Intent, error) {
	eventID := uuid.NewString()
	dedupe := busmsg.DedupeKey(symbol, action, bookLen, now, refLotID)
	intent := &busmsg.Intent{
		EventID:        eventID,
		Symbol:         symbol,
		Action:         action,
		Direction:      dir,
		ReferencePrice: price,
		TS:             now,
		DedupeKey:      dedupe,
		Payload:        payload,
		MAThrAtEntry:   cfg.MAThrEff,
	}
	cds.SetPendingIntent(eventID, dedupe, now, cfg.IntentPendingTimeout)
	return intent, nil
}

func lotIDs(lots []position.Lot) []string {
	ids := make([]string, len(lots))
	for i, l := range lots {
		ids[i] = l.LotID
	}
	return ids
}
