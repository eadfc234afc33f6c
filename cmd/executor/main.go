// Command executor runs an Executor process (spec §1, §4.G, §4.H): it joins
// the Signal Bus's consumer group, translates each Intent into a broker
// order, and publishes the resulting Fill back onto the Fill stream for the
// generator's Reconciler to apply. The real broker integration is out of
// scope (spec §1) — this wires internal/broker's Paper fake by default.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quantlane/meanrev/internal/broker"
	"github.com/quantlane/meanrev/internal/bus"
	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[FATAL] executor: config: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	intents := bus.NewRedisStream[busmsg.Intent](rdb, "signals", cfg.ConsumerGroup, cfg.ConsumerName, bus.IntentCodec)
	if err := intents.EnsureGroup(context.Background(), false); err != nil {
		log.Printf("[WARN] executor: ensure signals group: %v", err)
	}
	fills := bus.NewRedisStream[busmsg.Fill](rdb, "fills", cfg.ConsumerGroup, cfg.ConsumerName, bus.FillCodec)

	br := broker.NewPaper(decimal.Zero)
	defer func() {
		if err := br.Close(); err != nil {
			log.Printf("[WARN] executor: broker close: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go reclaimLoop(ctx, intents, fills, br, cfg.ClaimInterval, cfg.ClaimIdleThreshold())

	log.Printf("[INFO] executor: consuming as %s/%s via %s broker", cfg.ConsumerGroup, cfg.ConsumerName, br.Name())
	consumeLoop(ctx, intents, fills, br)
	log.Printf("[INFO] executor: shutting down, leaving any unacked entries for reclaim")
}

// consumeLoop implements spec §4.G's per-consumer protocol: read, execute
// idempotently, ack on resolution. It leaves an entry unacked on transient
// failure so it is redelivered by reclaimLoop or a future consumer restart.
func consumeLoop(ctx context.Context, intents *bus.RedisStream[busmsg.Intent], fills *bus.RedisStream[busmsg.Fill], br broker.Broker) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deliveries, err := intents.ReadNext(ctx, 16, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[WARN] executor: read: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var acked []string
		for _, d := range deliveries {
			if handleIntent(ctx, d.Value, fills, br) {
				acked = append(acked, d.ID)
			}
		}
		if len(acked) > 0 {
			if err := intents.Ack(ctx, acked...); err != nil {
				log.Printf("[WARN] executor: ack: %v", err)
			}
		}
	}
}

// handleIntent places the broker order and publishes the Fill. It returns
// true when the intent should be acked (success or unrecoverable business
// failure), false when it should be left pending for retry/reclaim (spec
// §4.G step 3).
func handleIntent(ctx context.Context, intent busmsg.Intent, fills *bus.RedisStream[busmsg.Fill], br broker.Broker) bool {
	order := broker.Order{
		IntentID: intent.EventID,
		Symbol:   intent.Symbol,
		Size:     decimal.NewFromInt(1),
		LimitRef: intent.ReferencePrice,
	}
	fill, err := br.PlaceOrder(ctx, order)
	if err != nil {
		log.Printf("[WARN] executor: place order intent=%s: %v", intent.EventID, err)
		return false
	}

	if err := fills.Publish(ctx, fill.EventID, fill); err != nil {
		log.Printf("[WARN] executor: publish fill intent=%s: %v", intent.EventID, err)
		return false
	}
	return true
}

// reclaimLoop scans the group's pending list on a fixed interval, re-claims
// entries idle past idleThreshold, and re-executes them exactly like a fresh
// delivery (spec §4.G step 4) — idempotent by construction since
// handleIntent/PlaceOrder key off intent.EventID.
func reclaimLoop(ctx context.Context, s *bus.RedisStream[busmsg.Intent], fills *bus.RedisStream[busmsg.Fill], br broker.Broker, interval, idleThreshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := s.ReclaimPending(ctx, idleThreshold, 64)
			if err != nil {
				log.Printf("[WARN] executor: reclaim: %v", err)
				continue
			}
			if len(reclaimed) == 0 {
				continue
			}
			log.Printf("[INFO] executor: reclaimed %d pending entries", len(reclaimed))
			var acked []string
			for _, d := range reclaimed {
				if handleIntent(ctx, d.Value, fills, br) {
					acked = append(acked, d.ID)
				}
			}
			if len(acked) > 0 {
				if err := s.Ack(ctx, acked...); err != nil {
					log.Printf("[WARN] executor: ack reclaimed: %v", err)
				}
			}
		}
	}
}
