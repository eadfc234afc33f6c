// Package dispatch implements the Tick Dispatcher (spec §4.I): the
// single-writer-per-symbol lane that serialises Candle Aggregator, Indicator
// Cache, Position Book and Strategy Evaluator work for one symbol, and also
// drains the Reconciler's ApplyFill messages on the same channel (spec §9
// "cyclic coupling... break with a single-writer queue per symbol").
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/candle"
	"github.com/quantlane/meanrev/internal/config"
	"github.com/quantlane/meanrev/internal/cooldown"
	"github.com/quantlane/meanrev/internal/indicator"
	"github.com/quantlane/meanrev/internal/market"
	"github.com/quantlane/meanrev/internal/position"
	"github.com/quantlane/meanrev/internal/reconcile"
	"github.com/quantlane/meanrev/internal/strategy"
	"github.com/quantlane/meanrev/internal/telemetry"
)

// Publisher is the slice of bus.Publisher[busmsg.Intent] the lane needs;
// declared locally so dispatch does not import bus (avoids a cycle and keeps
// the lane testable with a trivial fake).
type Publisher interface {
	Publish(ctx context.Context, dedupeKey string, v busmsg.Intent) error
}

// QuarantineFunc is called whenever a fill cannot be applied without
// violating a book invariant (spec §7 late-fill policy).
type QuarantineFunc func(fill busmsg.Fill, intent busmsg.Intent, cause error)

// PublishObserver is notified with every intent this lane successfully
// publishes, so the Runtime can correlate a later Fill (which only carries
// the originating intent's id) back to the full Intent the Reconciler needs
// (spec §4.H takes both the fill and its intent).
type PublishObserver func(intent busmsg.Intent)

type fillApply struct {
	fill   busmsg.Fill
	intent busmsg.Intent
}

type laneMsg struct {
	tick  *market.Tick
	fill  *fillApply
	sweep *time.Time
}

// Lane owns every piece of per-symbol state the spec requires to live behind
// a single writer: the Candle Aggregator, Indicator Cache, Position Book and
// Cooldown Registry. It is never touched from more than one goroutine —
// Run is the only goroutine allowed to mutate its fields.
type Lane struct {
	symbol string
	cfg    config.Config

	agg   *candle.Aggregator
	cache *indicator.Cache
	book  *position.Book
	cds   *cooldown.Registry

	pub        Publisher
	quarantine QuarantineFunc
	onPublish  PublishObserver

	guard market.MonotonicGuard
	snap  indicator.Snapshot

	in chan laneMsg
}

// New returns a lane for symbol, ready to be started with Run. onPublish may
// be nil when no correlation callback is needed (e.g. in tests).
func New(symbol string, cfg config.Config, pub Publisher, quarantine QuarantineFunc, onPublish PublishObserver) *Lane {
	return &Lane{
		symbol:     symbol,
		cfg:        cfg,
		agg:        candle.New(symbol, cfg.CandlePeriod),
		cache:      indicator.New(cfg.MAPeriod, cfg.MomentumWindow),
		book:       position.NewBook(symbol, cfg.MaxLots),
		cds:        cooldown.New(),
		pub:        pub,
		quarantine: quarantine,
		onPublish:  onPublish,
		in:         make(chan laneMsg, 256),
	}
}

// SubmitTick enqueues a tick for this lane, blocking until there is room or
// ctx is cancelled.
func (l *Lane) SubmitTick(ctx context.Context, t market.Tick) error {
	select {
	case l.in <- laneMsg{tick: &t}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitFill enqueues a fill/intent pair for the Reconciler to apply on this
// lane, posted onto the same channel as ticks per spec §9's single-writer
// resolution of the Evaluator/Book/Reconciler cycle.
func (l *Lane) SubmitFill(ctx context.Context, fill busmsg.Fill, intent busmsg.Intent) error {
	select {
	case l.in <- laneMsg{fill: &fillApply{fill: fill, intent: intent}}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the lane until ctx is cancelled or the channel is closed. On
// cancellation it finishes the message already in hand (spec §5
// "Cancellation: each lane drains its current tick...") and returns —
// it does not keep draining the backlog.
func (l *Lane) Run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-l.in:
			if !ok {
				return
			}
			l.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Lane) handle(ctx context.Context, msg laneMsg) {
	if msg.fill != nil {
		l.applyFill(msg.fill.fill, msg.fill.intent)
		return
	}
	if msg.sweep != nil {
		l.cds.ClearExpiredPending(*msg.sweep)
		return
	}
	l.processTick(ctx, *msg.tick)
}

func (l *Lane) processTick(ctx context.Context, t market.Tick) {
	telemetry.TicksTotal.WithLabelValues(l.symbol).Inc()
	if !l.guard.Check(t.TS) {
		telemetry.TicksDroppedTotal.WithLabelValues(l.symbol, "stale").Inc()
		log.Printf("[WARN] dispatch: stale tick dropped symbol=%s ts=%s", l.symbol, t.TS)
		return
	}

	closed := l.agg.OnTick(t.Price, t.TS)
	for _, c := range closed {
		l.snap = l.cache.Push(c.Close)
	}

	intent, err := strategy.Decide(l.symbol, t.Price, l.snap, l.book, l.cds, l.cfg, t.TS)
	if err != nil {
		log.Printf("[WARN] dispatch: evaluator error symbol=%s: %v", l.symbol, err)
		return
	}
	if intent == nil {
		return
	}
	telemetry.DecisionsTotal.WithLabelValues(l.symbol, string(intent.Action)).Inc()
	if err := l.pub.Publish(ctx, intent.DedupeKey, *intent); err != nil {
		log.Printf("[WARN] dispatch: publish failed symbol=%s action=%s: %v", l.symbol, intent.Action, err)
		return
	}
	if l.onPublish != nil {
		l.onPublish(*intent)
	}
}

func (l *Lane) applyFill(fill busmsg.Fill, intent busmsg.Intent) {
	quarantined, err := reconcile.Apply(fill.TS, fill, intent, l.book, l.cds, l.cfg)
	telemetry.OpenLots.WithLabelValues(l.symbol).Set(float64(l.book.Len()))
	if err == nil {
		telemetry.FillsAppliedTotal.WithLabelValues(l.symbol, string(intent.Action), string(fill.Status)).Inc()
		return
	}
	if quarantined {
		telemetry.QuarantinedFillsTotal.WithLabelValues(l.symbol, string(intent.Action)).Inc()
		log.Printf("[ALERT] dispatch: quarantined fill symbol=%s intent=%s: %v", l.symbol, intent.EventID, err)
		if l.quarantine != nil {
			l.quarantine(fill, intent, err)
		}
		return
	}
	telemetry.FillsAppliedTotal.WithLabelValues(l.symbol, string(intent.Action), string(fill.Status)).Inc()
	log.Printf("[INFO] dispatch: fill resolved without mutation symbol=%s intent=%s: %v", l.symbol, intent.EventID, err)
}

// WorkingPrice exposes the aggregator's current open-candle close, used by
// telemetry/health reporting rather than by the decision path itself.
func (l *Lane) WorkingPrice() (decimal.Decimal, bool) {
	return l.agg.WorkingPrice()
}

// Snapshot returns the lane's current indicator snapshot, for diagnostics.
func (l *Lane) Snapshot() indicator.Snapshot { return l.snap }

// ClearExpiredPending posts a sweep message onto the lane's own channel so
// the pending_intent expiry check runs on the lane goroutine, never from the
// sweeper's — the Cooldown Registry has no mutex and is only ever safe to
// touch from the single writer that also drives ticks and fills (spec §5,
// §9 "single-writer queue per symbol").
func (l *Lane) ClearExpiredPending(ctx context.Context, now time.Time) error {
	select {
	case l.in <- laneMsg{sweep: &now}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
