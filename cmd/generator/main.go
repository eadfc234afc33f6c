// Command generator runs the Signal Generator process (spec §1): it ingests
// market ticks, drives the per-symbol Candle/Indicator/Strategy pipeline, and
// publishes intent events onto the Signal Bus. It also consumes the Fill
// stream an Executor publishes to, correlating each fill back to the intent
// that produced it and handing both to the Reconciler (spec §4.H) so open
// lots actually reflect what the Executor filled. Wiring the market-data
// feed itself is out of scope (spec §1 "the market-data feed (treated as a
// push source of (symbol, price, timestamp))") — this entrypoint exposes
// the Runtime.SubmitTick boundary a feed adapter calls into.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantlane/meanrev/internal/bus"
	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/config"
	"github.com/quantlane/meanrev/internal/runtime"
	"github.com/quantlane/meanrev/internal/snapshot"
)

// fillConsumerGroup names the generator's own consumer group on the fills
// stream, distinct from the executor's "signals" group — the two streams
// are consumed independently in opposite directions (spec §1 "Signal Bus
// (out)"/"Fill stream (in)").
const fillConsumerGroup = "generator-fills"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[FATAL] generator: config: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	pub := bus.NewRedisStream[busmsg.Intent](rdb, "signals", cfg.ConsumerGroup, "generator", bus.IntentCodec)
	if err := pub.EnsureGroup(context.Background(), false); err != nil {
		log.Printf("[WARN] generator: ensure group: %v", err)
	}

	fills := bus.NewRedisStream[busmsg.Fill](rdb, "fills", fillConsumerGroup, "generator", bus.FillCodec)
	if err := fills.EnsureGroup(context.Background(), false); err != nil {
		log.Printf("[WARN] generator: ensure fills group: %v", err)
	}

	var store *snapshot.Store
	if cfg.SnapshotDSN != "" {
		store, err = snapshot.Open(cfg.SnapshotDSN)
		if err != nil {
			log.Fatalf("[FATAL] generator: snapshot store: %v", err)
		}
	}

	rt := runtime.New(cfg, pub, store)
	rt.ServeHTTP()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go rt.SweepExpiredPending(ctx, cfg.IntentPendingTimeout)
	go reclaimFillsLoop(ctx, fills, rt, cfg.ClaimInterval, cfg.ClaimIdleThreshold())
	go consumeFillsLoop(ctx, fills, rt)
	rt.RunLanes(ctx)

	log.Printf("[INFO] generator: shutting down")
	rt.Shutdown(5 * time.Second)
}

// consumeFillsLoop drains the Fill stream (spec §4.H, §6 "Fill stream
// (in)"): every fill published by an Executor is correlated back to the
// Intent the Runtime recorded when it was published, then handed to
// Runtime.SubmitFill so the Reconciler applies it on that symbol's lane.
// A fill whose intent cannot be found (expired correlation entry, or a
// duplicate/redelivered fill already applied once) is logged and acked —
// there is nothing further to correlate it against.
func consumeFillsLoop(ctx context.Context, fills *bus.RedisStream[busmsg.Fill], rt *runtime.Runtime) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deliveries, err := fills.ReadNext(ctx, 16, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[WARN] generator: read fills: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var acked []string
		for _, d := range deliveries {
			if applyFillDelivery(ctx, d.Value, rt) {
				acked = append(acked, d.ID)
			}
		}
		if len(acked) > 0 {
			if err := fills.Ack(ctx, acked...); err != nil {
				log.Printf("[WARN] generator: ack fills: %v", err)
			}
		}
	}
}

// reclaimFillsLoop re-delivers fills left pending past claim_idle_threshold
// (spec §4.G step 4, mirrored here for the fills stream's own consumer
// group) and re-applies them exactly like a fresh delivery.
func reclaimFillsLoop(ctx context.Context, fills *bus.RedisStream[busmsg.Fill], rt *runtime.Runtime, interval, idleThreshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := fills.ReclaimPending(ctx, idleThreshold, 64)
			if err != nil {
				log.Printf("[WARN] generator: reclaim fills: %v", err)
				continue
			}
			if len(reclaimed) == 0 {
				continue
			}
			log.Printf("[INFO] generator: reclaimed %d pending fills", len(reclaimed))
			var acked []string
			for _, d := range reclaimed {
				if applyFillDelivery(ctx, d.Value, rt) {
					acked = append(acked, d.ID)
				}
			}
			if len(acked) > 0 {
				if err := fills.Ack(ctx, acked...); err != nil {
					log.Printf("[WARN] generator: ack reclaimed fills: %v", err)
				}
			}
		}
	}
}

// applyFillDelivery correlates fill to its originating intent and submits it
// to the owning lane. It returns true when the delivery should be acked
// (applied, or unrecoverable — no correlated intent to apply it against),
// false when it should be left pending for retry.
func applyFillDelivery(ctx context.Context, fill busmsg.Fill, rt *runtime.Runtime) bool {
	intent, ok := rt.LookupIntent(fill.IntentID)
	if !ok {
		log.Printf("[WARN] generator: no intent correlated for fill intent=%s, dropping", fill.IntentID)
		return true
	}
	if err := rt.SubmitFill(ctx, fill, intent); err != nil {
		log.Printf("[WARN] generator: submit fill intent=%s: %v", fill.IntentID, err)
		return false
	}
	return true
}
