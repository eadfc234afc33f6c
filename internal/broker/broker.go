// Package broker defines the Executor's order-sink boundary (spec §1 "the
// broker adapter... treated as a black-box order sink emitting fill
// events"). Only the interface and a deterministic fake live here; a real
// MT5/exchange integration is explicitly out of scope (spec §1, SPEC_FULL
// Part 6) — this mirrors the teacher's Broker interface
// (chidi150c-coinbase/broker.go) plus its PaperBroker fake
// (broker_paper.go), narrowed to the one operation an Executor actually
// needs: place the order an Intent implies and report back a Fill.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantlane/meanrev/internal/busmsg"
)

// ErrUnsupported marks an operation a given Broker implementation does not
// offer, matching the teacher's "not supported on paper" sentinel errors.
var ErrUnsupported = errors.New("broker: operation not supported")

// Order is the normalized order an Executor asks a Broker to place, derived
// from one Intent (spec §1 "Executors... translate [intents] into broker
// orders").
type Order struct {
	IntentID  string
	Symbol    string
	Direction busmsg.Action // carries the originating action for broker-side idempotency keys
	Size      decimal.Decimal
	LimitRef  decimal.Decimal // reference price carried for logging/slippage checks only
}

// Broker is the minimal surface an Executor needs against any concrete
// venue (MT5, a REST sidecar, paper). Every call is idempotent when keyed by
// order.IntentID, per spec §4.G step 2 ("execute the broker-side operation
// idempotently (keyed by event_id)").
type Broker interface {
	Name() string
	PlaceOrder(ctx context.Context, order Order) (busmsg.Fill, error)
	Close() error
}

// Paper is a deterministic in-memory fake broker: every order fills in full
// at its LimitRef price. Used by Executor tests and local dry runs, in the
// manner of the teacher's PaperBroker.
type Paper struct {
	mu       sync.Mutex
	seen     map[string]busmsg.Fill // intentID -> fill, for idempotent replay
	fallback decimal.Decimal
}

// NewPaper returns a Paper broker. fallback is used as the fill price when an
// order carries no LimitRef (zero value).
func NewPaper(fallback decimal.Decimal) *Paper {
	return &Paper{seen: map[string]busmsg.Fill{}, fallback: fallback}
}

func (p *Paper) Name() string { return "paper" }

// PlaceOrder fills order immediately at its LimitRef (or the configured
// fallback price), and returns the identical Fill on any repeat call for the
// same IntentID — the idempotency the spec requires of the broker-side
// operation.
func (p *Paper) PlaceOrder(ctx context.Context, order Order) (busmsg.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.seen[order.IntentID]; ok {
		return f, nil
	}

	price := order.LimitRef
	if price.IsZero() {
		price = p.fallback
	}
	fill := busmsg.Fill{
		EventID:    uuid.NewString(),
		IntentID:   order.IntentID,
		Symbol:     order.Symbol,
		FillPrice:  price,
		FilledSize: order.Size,
		TS:         time.Now(),
		Status:     busmsg.FillStatusFilled,
	}
	p.seen[order.IntentID] = fill
	return fill, nil
}

func (p *Paper) Close() error { return nil }
