package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/config"
	"github.com/quantlane/meanrev/internal/market"
)

// fakePublisher is the hand-rolled *Func-field test double used throughout
// this pack instead of a generated mock.
type fakePublisher struct {
	mu        sync.Mutex
	published []busmsg.Intent
	PublishFn func(ctx context.Context, dedupeKey string, v busmsg.Intent) error
}

func (f *fakePublisher) Publish(ctx context.Context, dedupeKey string, v busmsg.Intent) error {
	f.mu.Lock()
	f.published = append(f.published, v)
	f.mu.Unlock()
	if f.PublishFn != nil {
		return f.PublishFn(ctx, dedupeKey, v)
	}
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testCfg() config.Config {
	return config.Config{
		MAPeriod:             3,
		CandlePeriod:         time.Minute,
		MomentumWindow:       1,
		MomentumThreshold:    decimal.NewFromFloat(0.003),
		MAThrEff:             decimal.NewFromFloat(0.01),
		MaxLots:              4,
		InitWindow:           15 * time.Minute,
		ScaleInCooldown:      30 * time.Minute,
		ScaleoutCooldown:     15 * time.Minute,
		NearTouchWindow:      time.Minute,
		NearTouchEps:         decimal.NewFromFloat(0.0005),
		RiskControlThreshold: decimal.NewFromFloat(0.003),
		IntentPendingTimeout: time.Minute,
	}
}

func TestLaneEmitsInitOnceIndicatorsWarm(t *testing.T) {
	pub := &fakePublisher{}
	lane := New("BTC-USD", testCfg(), pub, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Closes 100,100,100,99 warm the 3-candle MA with a negative 1-candle
	// momentum, so the final tick at 97 is the only one that triggers INIT.
	prices := []string{"100", "100", "100", "99", "97"}
	for i, p := range prices {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, lane.SubmitTick(ctx, market.Tick{Symbol: "BTC-USD", Price: decimal.RequireFromString(p), TS: ts}))
	}

	go lane.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	require.Equal(t, 1, pub.count())
	assert.Equal(t, busmsg.ActionInit, pub.published[0].Action)
}

func TestLaneDropsStaleTick(t *testing.T) {
	pub := &fakePublisher{}
	lane := New("BTC-USD", testCfg(), pub, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go lane.Run(ctx)

	now := time.Now()
	require.NoError(t, lane.SubmitTick(ctx, market.Tick{Symbol: "BTC-USD", Price: decimal.NewFromInt(100), TS: now}))
	require.NoError(t, lane.SubmitTick(ctx, market.Tick{Symbol: "BTC-USD", Price: decimal.NewFromInt(101), TS: now.Add(-time.Second)}))
	time.Sleep(50 * time.Millisecond)
}

func TestLaneNotifiesPublishObserverOnSuccessfulPublish(t *testing.T) {
	pub := &fakePublisher{}
	var observed []busmsg.Intent
	var mu sync.Mutex
	lane := New("BTC-USD", testCfg(), pub, nil, func(intent busmsg.Intent) {
		mu.Lock()
		observed = append(observed, intent)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := []string{"100", "100", "100", "99", "97"}
	for i, p := range prices {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, lane.SubmitTick(ctx, market.Tick{Symbol: "BTC-USD", Price: decimal.RequireFromString(p), TS: ts}))
	}

	go lane.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, pub.count(), len(observed))
}

func TestLaneClearExpiredPendingRunsOnLaneGoroutine(t *testing.T) {
	pub := &fakePublisher{}
	lane := New("BTC-USD", testCfg(), pub, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go lane.Run(ctx)

	lane.cds.SetPendingIntent("intent-y", "dedupe-y", time.Now().Add(-2*time.Minute), time.Minute)
	require.NoError(t, lane.ClearExpiredPending(ctx, time.Now()))
	time.Sleep(50 * time.Millisecond)

	assert.False(t, lane.cds.PendingActive(time.Now()))
}

func TestLaneQuarantinesInvariantViolatingFill(t *testing.T) {
	pub := &fakePublisher{}
	var quarantined []string
	lane := New("BTC-USD", testCfg(), pub, func(fill busmsg.Fill, intent busmsg.Intent, cause error) {
		quarantined = append(quarantined, intent.EventID)
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go lane.Run(ctx)

	intent := busmsg.Intent{EventID: "intent-x", Action: busmsg.ActionStopLoss, Payload: busmsg.NewSingleLotPayload(busmsg.ActionStopLoss, "ghost-lot")}
	fill := busmsg.Fill{IntentID: "intent-x", TS: time.Now(), Status: busmsg.FillStatusFilled}
	require.NoError(t, lane.SubmitFill(ctx, fill, intent))

	time.Sleep(50 * time.Millisecond)
	assert.Contains(t, quarantined, "intent-x")
}
