// Package runtime wires the process-wide state for the Signal Generator
// (spec §9 "Process-wide state. Configuration, symbol lanes, and bus
// connections live in a Runtime constructed at startup and torn down on
// shutdown; no ambient singletons"), in the shape of the teacher's
// main.go/trader.go boot sequence: load config, wire dependencies, serve
// /healthz and /metrics, run until a shutdown signal drains every lane.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/config"
	"github.com/quantlane/meanrev/internal/dispatch"
	"github.com/quantlane/meanrev/internal/market"
	"github.com/quantlane/meanrev/internal/snapshot"
)

// Runtime owns every piece of process-wide state for the Signal Generator:
// configuration, one dispatch.Lane per symbol, the Signal Bus producer, the
// snapshot store, and the HTTP server exposing /healthz and /metrics.
type Runtime struct {
	Cfg config.Config

	lanesMu sync.RWMutex
	lanes   map[string]*dispatch.Lane

	pub   dispatch.Publisher
	store *snapshot.Store
	http  *http.Server

	quarantineFunc dispatch.QuarantineFunc

	intentsMu sync.Mutex
	intents   map[string]recordedIntent
}

// recordedIntent is a published Intent kept just long enough to correlate
// the Fill that resolves it (spec §4.H: the Reconciler needs both the fill
// and its originating intent, but a Fill only carries the intent's id).
type recordedIntent struct {
	intent busmsg.Intent
	at     time.Time
}

// New constructs a Runtime from cfg. pub is the Signal Bus producer shared by
// every lane (cmd/generator builds it over the single "signals" stream key;
// each lane publishes its own symbol's intents in order, so per-symbol
// ordering holds in the shared stream per spec §5); tests wire a
// bus.MemoryStream, production wires a bus.RedisStream. store may be nil when
// snapshotting is disabled (e.g. local dry runs).
func New(cfg config.Config, pub dispatch.Publisher, store *snapshot.Store) *Runtime {
	rt := &Runtime{
		Cfg:     cfg,
		lanes:   map[string]*dispatch.Lane{},
		pub:     pub,
		store:   store,
		intents: map[string]recordedIntent{},
	}
	rt.quarantineFunc = rt.quarantine
	return rt
}

// Lane returns the lane for symbol, creating and registering it on first
// use. A newly created lane starts with empty state: nothing in Runtime
// loads a persisted snapshot into it.
func (rt *Runtime) Lane(symbol string) *dispatch.Lane {
	rt.lanesMu.RLock()
	l, ok := rt.lanes[symbol]
	rt.lanesMu.RUnlock()
	if ok {
		return l
	}

	rt.lanesMu.Lock()
	defer rt.lanesMu.Unlock()
	if l, ok = rt.lanes[symbol]; ok {
		return l
	}
	l = dispatch.New(symbol, rt.Cfg, rt.pub, rt.quarantineFunc, rt.recordIntent)
	rt.lanes[symbol] = l
	return l
}

// Symbols returns every symbol lane currently registered.
func (rt *Runtime) Symbols() []string {
	rt.lanesMu.RLock()
	defer rt.lanesMu.RUnlock()
	out := make([]string, 0, len(rt.lanes))
	for s := range rt.lanes {
		out = append(out, s)
	}
	return out
}

// SubmitTick routes t to its symbol's lane, creating the lane on first use.
func (rt *Runtime) SubmitTick(ctx context.Context, t market.Tick) error {
	return rt.Lane(t.Symbol).SubmitTick(ctx, t)
}

// SubmitFill routes a resolved fill onto its symbol's lane, to be applied by
// the Reconciler in-order with that symbol's ticks (spec §9 single-writer
// resolution).
func (rt *Runtime) SubmitFill(ctx context.Context, fill busmsg.Fill, intent busmsg.Intent) error {
	return rt.Lane(intent.Symbol).SubmitFill(ctx, fill, intent)
}

// recordIntent is the dispatch.PublishObserver every lane reports its
// published intents to, keyed by EventID so a later Fill (which only
// carries IntentID) can be correlated back to it.
func (rt *Runtime) recordIntent(intent busmsg.Intent) {
	rt.intentsMu.Lock()
	rt.intents[intent.EventID] = recordedIntent{intent: intent, at: time.Now()}
	rt.intentsMu.Unlock()
}

// LookupIntent returns the previously published intent matching id, the
// fill-stream consumer's correlation step before calling SubmitFill (spec
// §4.H). Found entries are consumed: a second fill for the same intent id
// (e.g. a redelivered/duplicate fill) will not find it again, and should be
// treated as a late/duplicate fill by the caller.
func (rt *Runtime) LookupIntent(id string) (busmsg.Intent, bool) {
	rt.intentsMu.Lock()
	defer rt.intentsMu.Unlock()
	rec, ok := rt.intents[id]
	if !ok {
		return busmsg.Intent{}, false
	}
	delete(rt.intents, id)
	return rec.intent, true
}

// pruneIntents drops correlation entries older than maxAge, bounding memory
// growth from intents whose fill never arrives (e.g. a rejected order that
// never reaches the Fill stream).
func (rt *Runtime) pruneIntents(now time.Time, maxAge time.Duration) {
	rt.intentsMu.Lock()
	defer rt.intentsMu.Unlock()
	for id, rec := range rt.intents {
		if now.Sub(rec.at) > maxAge {
			delete(rt.intents, id)
		}
	}
}

func (rt *Runtime) quarantine(fill busmsg.Fill, intent busmsg.Intent, cause error) {
	if rt.store == nil {
		return
	}
	if err := rt.store.QuarantineFill(intent.Symbol, intent.EventID, string(intent.Action), cause); err != nil {
		log.Printf("[ALERT] runtime: failed to persist quarantined fill intent=%s: %v", intent.EventID, err)
	}
}

// ServeHTTP starts the /healthz and /metrics endpoints on cfg.HTTPPort in the
// background, mirroring the teacher's main.go mux wiring.
func (rt *Runtime) ServeHTTP() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	rt.http = &http.Server{Addr: fmt.Sprintf(":%d", rt.Cfg.HTTPPort), Handler: mux}
	go func() {
		log.Printf("[INFO] runtime: serving :%d/healthz and /metrics", rt.Cfg.HTTPPort)
		if err := rt.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[WARN] runtime: http server: %v", err)
		}
	}()
}

// RunLanes starts every registered lane's goroutine and blocks until ctx is
// cancelled, then waits for each lane to drain its current message (spec §5
// "Cancellation: each lane drains its current tick...").
func (rt *Runtime) RunLanes(ctx context.Context) {
	rt.lanesMu.RLock()
	lanes := make([]*dispatch.Lane, 0, len(rt.lanes))
	for _, l := range rt.lanes {
		lanes = append(lanes, l)
	}
	rt.lanesMu.RUnlock()

	var wg sync.WaitGroup
	for _, l := range lanes {
		wg.Add(1)
		go func(l *dispatch.Lane) {
			defer wg.Done()
			l.Run(ctx)
		}(l)
	}
	<-ctx.Done()
	wg.Wait()
}

// SweepExpiredPending periodically clears pending_intent cooldowns that
// expired without a fill (spec §7 IntentTimeout), freeing each lane's
// evaluator to re-propose. Runs until ctx is cancelled. Each lane's expiry
// check is posted onto that lane's own channel (dispatch.Lane.ClearExpired
// Pending) rather than applied here directly, since the Cooldown Registry is
// single-writer state owned by the lane's Run goroutine (spec §5, §9).
func (rt *Runtime) SweepExpiredPending(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rt.lanesMu.RLock()
			lanes := make([]*dispatch.Lane, 0, len(rt.lanes))
			for _, l := range rt.lanes {
				lanes = append(lanes, l)
			}
			rt.lanesMu.RUnlock()
			for _, l := range lanes {
				if err := l.ClearExpiredPending(ctx, now); err != nil {
					return
				}
			}
			rt.pruneIntents(now, 2*rt.Cfg.IntentPendingTimeout)
		}
	}
}

// Shutdown stops the HTTP server and releases the snapshot store, with a
// bounded timeout identical in shape to the teacher's main.go.
func (rt *Runtime) Shutdown(timeout time.Duration) {
	if rt.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = rt.http.Shutdown(ctx)
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
