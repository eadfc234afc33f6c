// Package config defines the immutable-per-run Configuration surface (spec
// §3 "Configuration", §6 "Configuration surface") and loads it with Viper,
// layering MEANREV_-prefixed environment variables over defaults, in the
// manner of the retrieval pack (github.com/0xtitan6/polymarket-mm's cmd
// wiring) rather than the teacher's hand-rolled os.Getenv helpers. No
// config file is read.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/quantlane/meanrev/internal/errs"
)

// Config holds every knob recognised by spec §6, immutable once loaded.
type Config struct {
	MAPeriod             int
	CandlePeriod         time.Duration
	MomentumWindow       int
	MomentumThreshold    decimal.Decimal
	MAThrEff             decimal.Decimal
	MaxLots              int
	InitWindow           time.Duration
	ScaleInCooldown      time.Duration
	ScaleoutCooldown     time.Duration
	NearTouchWindow      time.Duration
	NearTouchEps         decimal.Decimal
	RiskControlThreshold decimal.Decimal
	IntentPendingTimeout time.Duration

	// Ops/transport, not part of the strategy surface but still
	// immutable-per-run configuration (bus address, consumer group name,
	// snapshot DSN, HTTP port).
	RedisAddr       string
	ConsumerGroup   string
	ConsumerName    string
	SnapshotDSN     string
	HTTPPort        int
	ClaimInterval   time.Duration
	ClaimIdleFactor int
}

// SLBase and TPBase both equal MAThrEff per spec §3 ("sl_base: ma_thr_eff,
// tp_base: ma_thr_eff") — named accessors document that equivalence at call
// sites instead of duplicating the field.
func (c Config) SLBase() decimal.Decimal { return c.MAThrEff }
func (c Config) TPBase() decimal.Decimal { return c.MAThrEff }

// ClaimIdleThreshold returns claim_idle_threshold, default 2x ClaimInterval
// (spec §4.G).
func (c Config) ClaimIdleThreshold() time.Duration {
	factor := c.ClaimIdleFactor
	if factor <= 0 {
		factor = 2
	}
	return c.ClaimInterval * time.Duration(factor)
}

// Load reads .env (if present, via godotenv — local-dev convenience only,
// mirroring guyghost-constantine/ChoSanghyuk-blackholedex) then layers Viper
// env-var + default bindings into a Config. Returns errs.ErrFatalConfig
// wrapped with detail on any value that fails validation, per spec §7
// ("FatalConfig... abort").
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MEANREV")
	v.AutomaticEnv()

	v.SetDefault("ma_period", 100)
	v.SetDefault("candle_period_sec", 60)
	v.SetDefault("momentum_window", 3)
	v.SetDefault("momentum_threshold", "0.003")
	v.SetDefault("ma_thr_eff", "0.01")
	v.SetDefault("max_lots", 4)
	v.SetDefault("init_window_sec", 900)
	v.SetDefault("scale_in_cooldown_sec", 1800)
	v.SetDefault("scaleout_cooldown_sec", 900)
	v.SetDefault("near_touch_window_sec", 60)
	v.SetDefault("near_touch_eps", "0.0005")
	v.SetDefault("risk_control_threshold", "0.003")
	v.SetDefault("intent_pending_timeout_sec", 60)
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("consumer_group", "executors")
	v.SetDefault("consumer_name", "executor-1")
	v.SetDefault("snapshot_dsn", "")
	v.SetDefault("http_port", 8080)
	v.SetDefault("claim_interval_sec", 30)
	v.SetDefault("claim_idle_factor", 2)

	momThr, err := decimal.NewFromString(v.GetString("momentum_threshold"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: momentum_threshold: %v", errs.ErrFatalConfig, err)
	}
	maThr, err := decimal.NewFromString(v.GetString("ma_thr_eff"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: ma_thr_eff: %v", errs.ErrFatalConfig, err)
	}
	touchEps, err := decimal.NewFromString(v.GetString("near_touch_eps"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: near_touch_eps: %v", errs.ErrFatalConfig, err)
	}
	riskThr, err := decimal.NewFromString(v.GetString("risk_control_threshold"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: risk_control_threshold: %v", errs.ErrFatalConfig, err)
	}

	cfg := Config{
		MAPeriod:             v.GetInt("ma_period"),
		CandlePeriod:         time.Duration(v.GetInt("candle_period_sec")) * time.Second,
		MomentumWindow:       v.GetInt("momentum_window"),
		MomentumThreshold:    momThr,
		MAThrEff:             maThr,
		MaxLots:              v.GetInt("max_lots"),
		InitWindow:           time.Duration(v.GetInt("init_window_sec")) * time.Second,
		ScaleInCooldown:      time.Duration(v.GetInt("scale_in_cooldown_sec")) * time.Second,
		ScaleoutCooldown:     time.Duration(v.GetInt("scaleout_cooldown_sec")) * time.Second,
		NearTouchWindow:      time.Duration(v.GetInt("near_touch_window_sec")) * time.Second,
		NearTouchEps:         touchEps,
		RiskControlThreshold: riskThr,
		IntentPendingTimeout: time.Duration(v.GetInt("intent_pending_timeout_sec")) * time.Second,
		RedisAddr:            v.GetString("redis_addr"),
		ConsumerGroup:        v.GetString("consumer_group"),
		ConsumerName:         v.GetString("consumer_name"),
		SnapshotDSN:          v.GetString("snapshot_dsn"),
		HTTPPort:             v.GetInt("http_port"),
		ClaimInterval:        time.Duration(v.GetInt("claim_interval_sec")) * time.Second,
		ClaimIdleFactor:      v.GetInt("claim_idle_factor"),
	}

	if cfg.MAPeriod <= 0 || cfg.MomentumWindow <= 0 || cfg.MaxLots <= 0 {
		return Config{}, fmt.Errorf("%w: ma_period/momentum_window/max_lots must be positive", errs.ErrFatalConfig)
	}
	if cfg.MaxLots > 4 {
		return Config{}, fmt.Errorf("%w: max_lots cannot exceed the book's hard cap of 4", errs.ErrFatalConfig)
	}
	return cfg, nil
}
