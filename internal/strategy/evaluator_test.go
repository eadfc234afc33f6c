package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/config"
	"github.com/quantlane/meanrev/internal/cooldown"
	"github.com/quantlane/meanrev/internal/indicator"
	"github.com/quantlane/meanrev/internal/position"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testCfg() config.Config {
	return config.Config{
		MAPeriod:             100,
		MomentumWindow:       3,
		MomentumThreshold:    d("0.003"),
		MAThrEff:             d("0.01"),
		MaxLots:              4,
		InitWindow:           15 * time.Minute,
		ScaleInCooldown:      30 * time.Minute,
		ScaleoutCooldown:     15 * time.Minute,
		NearTouchWindow:      60 * time.Second,
		NearTouchEps:         d("0.0005"),
		RiskControlThreshold: d("0.003"),
		IntentPendingTimeout: 60 * time.Second,
	}
}

func warmSnapshot(ma, mom string) indicator.Snapshot {
	return indicator.Snapshot{MA: d(ma), Mom: d(mom), Defined: true, HasMom: true}
}

// spec §8 scenario 1: INIT LONG fires once warm-up completes.
func TestDecideInitLong(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	intent, err := Decide("BTC-USD", d("98.9"), warmSnapshot("100", "-0.004"), book, cds, cfg, now)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, busmsg.ActionInit, intent.Action)
	assert.Equal(t, position.Long, intent.Direction)
	assert.True(t, intent.ReferencePrice.Equal(d("98.9")))
	assert.True(t, cds.PendingActive(now))
}

// spec §8 scenario 1, SHORT mirror.
func TestDecideInitShort(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	now := time.Now()

	intent, err := Decide("BTC-USD", d("101.1"), warmSnapshot("100", "0.004"), book, cds, cfg, now)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, busmsg.ActionInit, intent.Action)
	assert.Equal(t, position.Short, intent.Direction)
}

func TestDecideSuppressedBeforeIndicatorsWarm(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	now := time.Now()

	intent, err := Decide("BTC-USD", d("50"), indicator.Snapshot{}, book, cds, cfg, now)
	require.NoError(t, err)
	assert.Nil(t, intent)
}

// spec §8 scenario 2: SCALE_IN after INIT, then blocked by cooldown.
func TestDecideScaleInThenCooldownBlocks(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, book.Append(position.Lot{
		LotID: "lot-init", Direction: position.Long, EntryPrice: d("98.9"),
		EntryTS: base, Size: d("1"), Stage: position.StageInit, MAThrAtEntry: cfg.MAThrEff,
	}))

	tick1 := base.Add(10 * time.Minute)
	intent, err := Decide("BTC-USD", d("98.4"), warmSnapshot("100", "-0.004"), book, cds, cfg, tick1)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, busmsg.ActionScaleIn, intent.Action)

	// Simulate the fill arriving and arming the scale_in cooldown.
	cds.ClearPendingIntent(intent.EventID)
	cds.ArmScaleIn(tick1, cfg.ScaleInCooldown)
	require.NoError(t, book.Append(position.Lot{
		LotID: "lot-scalein", Direction: position.Long, EntryPrice: d("98.4"),
		EntryTS: tick1, Size: d("1"), Stage: position.StageScaleIn, MAThrAtEntry: cfg.MAThrEff,
	}))

	tick2 := tick1.Add(15 * time.Minute)
	intent2, err := Decide("BTC-USD", d("98.2"), warmSnapshot("100", "-0.004"), book, cds, cfg, tick2)
	require.NoError(t, err)
	assert.Nil(t, intent2)
}

// spec §8 scenario 3: STOP_LOSS on oldest at 30m age (age_factor 3.0).
func TestDecideStopLossOldest(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, book.Append(position.Lot{
		LotID: "lot-0", Direction: position.Long, EntryPrice: d("99"),
		EntryTS: base, Size: d("1"), Stage: position.StageInit, MAThrAtEntry: d("0.01"),
	}))

	now := base.Add(30 * time.Minute)
	intent, err := Decide("BTC-USD", d("96.02"), warmSnapshot("100", "0"), book, cds, cfg, now)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, busmsg.ActionStopLoss, intent.Action)
	p, ok := intent.Payload.(busmsg.SingleLotPayload)
	require.True(t, ok)
	assert.Equal(t, "lot-0", p.TargetLotID)
}

// spec §8: age exactly 1h is half-open into the [1h,2h) bucket (factor 2.5),
// so the under-1h factor (3.0) no longer applies; the later bucket edges
// are half-open the same way.
func TestAgeFactorBoundaryAtOneHour(t *testing.T) {
	assert.Equal(t, 2.5, ageFactor(time.Hour))
	assert.Equal(t, 3.0, ageFactor(time.Hour-time.Nanosecond))
	assert.Equal(t, 2.0, ageFactor(2*time.Hour))
	assert.Equal(t, 1.5, ageFactor(12*time.Hour))
	assert.Equal(t, 1.0, ageFactor(24*time.Hour))
}

// spec §8 scenario 4: RISK_CONTROL at 4 lots closes all.
func TestDecideRiskControlFourLots(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"lot-0", "lot-1", "lot-2", "lot-3"} {
		require.NoError(t, book.Append(position.Lot{
			LotID: id, Direction: position.Long, EntryPrice: d("98"),
			EntryTS: base.Add(time.Duration(i) * time.Minute), Size: d("1"),
			Stage: position.StageInit, MAThrAtEntry: d("0.01"),
		}))
	}

	now := base.Add(time.Hour)
	intent, err := Decide("BTC-USD", d("98.3"), warmSnapshot("100", "0"), book, cds, cfg, now)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, busmsg.ActionRiskControl, intent.Action)
	p, ok := intent.Payload.(busmsg.MultiLotPayload)
	require.True(t, ok)
	assert.Len(t, p.TargetLots, 4)
}

// spec §8 scenario 4 variant: RISK_CONTROL at 3 lots closes oldest only.
func TestDecideRiskControlThreeLots(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"lot-0", "lot-1", "lot-2"} {
		require.NoError(t, book.Append(position.Lot{
			LotID: id, Direction: position.Long, EntryPrice: d("98"),
			EntryTS: base.Add(time.Duration(i) * time.Minute), Size: d("1"),
			Stage: position.StageInit, MAThrAtEntry: d("0.01"),
		}))
	}

	now := base.Add(time.Hour)
	intent, err := Decide("BTC-USD", d("98.3"), warmSnapshot("100", "0"), book, cds, cfg, now)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, busmsg.ActionRiskControl, intent.Action)
	p, ok := intent.Payload.(busmsg.MultiLotPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"lot-0"}, p.TargetLots)
}

// spec §8 scenario 5: NORMAL_EXIT full flat.
func TestDecideNormalExit(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, book.Append(position.Lot{
		LotID: "lot-0", Direction: position.Long, EntryPrice: d("100"),
		EntryTS: base, Size: d("1"), Stage: position.StageInit, MAThrAtEntry: d("0.01"),
	}))

	now := base.Add(5 * time.Minute)
	intent, err := Decide("BTC-USD", d("101.05"), warmSnapshot("100", "0"), book, cds, cfg, now)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, busmsg.ActionNormalExit, intent.Action)
	p, ok := intent.Payload.(busmsg.MultiLotPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"lot-0"}, p.TargetLots)
}

// spec §8 scenario 6: pending_intent cooldown suppresses duplicate emission.
func TestDecidePendingIntentSuppressesDuplicate(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	intent, err := Decide("BTC-USD", d("98.9"), warmSnapshot("100", "-0.004"), book, cds, cfg, now)
	require.NoError(t, err)
	require.NotNil(t, intent)

	second, err := Decide("BTC-USD", d("98.9"), warmSnapshot("100", "-0.004"), book, cds, cfg, now.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, second)
}

// INIT2 requires the book to still be size 1 with the oldest lot staged
// INIT, within the 15-minute init window (SPEC_FULL Open Question 1).
func TestDecideInit2WithinWindow(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, book.Append(position.Lot{
		LotID: "lot-0", Direction: position.Long, EntryPrice: d("98.9"),
		EntryTS: base, Size: d("1"), Stage: position.StageInit, MAThrAtEntry: d("0.01"),
	}))

	now := base.Add(10 * time.Minute)
	gate := d("98.9").Mul(d("1").Sub(d("0.01")))
	intent, err := Decide("BTC-USD", gate, warmSnapshot("100", "0"), book, cds, cfg, now)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, busmsg.ActionInit2, intent.Action)
}

// INIT2 is unreachable once more than 15 minutes have passed since INIT.
func TestDecideInit2UnreachableAfterWindow(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, book.Append(position.Lot{
		LotID: "lot-0", Direction: position.Long, EntryPrice: d("98.9"),
		EntryTS: base, Size: d("1"), Stage: position.StageInit, MAThrAtEntry: d("0.01"),
	}))

	now := base.Add(16 * time.Minute)
	gate := d("98.9").Mul(d("1").Sub(d("0.01")))
	intent, err := Decide("BTC-USD", gate, warmSnapshot("100", "0"), book, cds, cfg, now)
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestDecideNearTouchClosesNewest(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, book.Append(position.Lot{
		LotID: "lot-0", Direction: position.Long, EntryPrice: d("99"),
		EntryTS: base, Size: d("1"), Stage: position.StageInit, MAThrAtEntry: d("0.01"),
	}))

	now := base.Add(30 * time.Second)
	intent, err := Decide("BTC-USD", d("100.00001"), warmSnapshot("100", "0"), book, cds, cfg, now)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, busmsg.ActionNearTouch, intent.Action)
}

func TestDecideScaleOutBlockedByCooldown(t *testing.T) {
	cfg := testCfg()
	cds := cooldown.New()
	book := position.NewBook("BTC-USD", cfg.MaxLots)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, book.Append(position.Lot{
		LotID: "lot-0", Direction: position.Long, EntryPrice: d("100.5"),
		EntryTS: base, Size: d("1"), Stage: position.StageInit, MAThrAtEntry: d("0.01"),
	}))
	cds.ArmScaleOut(base, 15*time.Minute)

	now := base.Add(time.Minute)
	intent, err := Decide("BTC-USD", d("100.6"), warmSnapshot("100", "0"), book, cds, cfg, now)
	require.NoError(t, err)
	assert.Nil(t, intent)
}
