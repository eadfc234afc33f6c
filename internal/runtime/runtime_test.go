package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlane/meanrev/internal/bus"
	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/config"
	"github.com/quantlane/meanrev/internal/market"
)

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
		HTTPPort:             0,
	}
}

func TestRuntimeLaneIsCreatedLazilyAndReused(t *testing.T) {
	pub := bus.NewMemoryStream[busmsg.Intent](nil)
	rt := New(testCfg(), pub, nil)

	l1 := rt.Lane("BTC-USD")
	l2 := rt.Lane("BTC-USD")
	assert.Same(t, l1, l2)
	assert.Equal(t, []string{"BTC-USD"}, rt.Symbols())
}

func TestRuntimeSubmitTickRoutesToLane(t *testing.T) {
	pub := bus.NewMemoryStream[busmsg.Intent](nil)
	rt := New(testCfg(), pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, rt.SubmitTick(ctx, market.Tick{Symbol: "BTC-USD", Price: decimal.NewFromInt(100), TS: time.Now()}))
	assert.Contains(t, rt.Symbols(), "BTC-USD")
}

func TestRuntimeRecordsPublishedIntentsForFillCorrelation(t *testing.T) {
	pub := bus.NewMemoryStream[busmsg.Intent](nil)
	rt := New(testCfg(), pub, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go rt.Lane("BTC-USD").Run(ctx)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := []string{"100", "100", "100", "99", "97"}
	for i, p := range prices {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, rt.SubmitTick(ctx, market.Tick{Symbol: "BTC-USD", Price: decimal.RequireFromString(p), TS: ts}))
	}
	time.Sleep(50 * time.Millisecond)

	deliveries, err := pub.Join("g", "c").ReadNext(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	intent, ok := rt.LookupIntent(deliveries[0].Value.EventID)
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", intent.Symbol)

	_, ok = rt.LookupIntent(deliveries[0].Value.EventID)
	assert.False(t, ok, "a second lookup for the same intent id should not find it again")
}

func TestRuntimeRunLanesDrainsOnCancel(t *testing.T) {
	pub := bus.NewMemoryStream[busmsg.Intent](nil)
	rt := New(testCfg(), pub, nil)
	rt.Lane("BTC-USD")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rt.RunLanes(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunLanes did not return after cancellation")
	}
}
