package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlane/meanrev/internal/errs"
)

// MaxLots caps the number of concurrently open lots per symbol (spec
// default 4, configurable as cfg.MaxLots; this constant is the hard upper
// bound the Book itself enforces even if misconfigured).
const MaxLots = 4

// Book is the ordered, single-direction lot sequence for one symbol. It is
// owned by that symbol's lane (spec §5) and is not safe for concurrent use
// from multiple goroutines.
type Book struct {
	symbol    string
	maxLots   int
	direction Direction
	lots      []Lot // entry order, oldest first
}

// NewBook returns an empty book for symbol, capped at maxLots (<=MaxLots).
func NewBook(symbol string, maxLots int) *Book {
	if maxLots <= 0 || maxLots > MaxLots {
		maxLots = MaxLots
	}
	return &Book{symbol: symbol, maxLots: maxLots}
}

// Len reports the number of open lots.
func (b *Book) Len() int { return len(b.lots) }

// Empty reports whether the book holds no lots.
func (b *Book) Empty() bool { return len(b.lots) == 0 }

// Direction reports the book's current side; meaningless when Empty.
func (b *Book) Direction() Direction { return b.direction }

// Oldest returns the first (oldest) lot. Panics if the book is empty; callers
// must check Empty() first, as the Evaluator always does.
func (b *Book) Oldest() Lot { return b.lots[0] }

// Newest returns the last (most recently appended) lot.
func (b *Book) Newest() Lot { return b.lots[len(b.lots)-1] }

// Lots returns a copy of the lot slice in entry order, oldest first.
func (b *Book) Lots() []Lot {
	out := make([]Lot, len(b.lots))
	copy(out, b.lots)
	return out
}

// Append adds a new lot to the newest end of the book, enforcing the
// uniform-direction and max-lots invariants (spec §3, §4.C).
func (b *Book) Append(l Lot) error {
	if len(b.lots) >= b.maxLots {
		return errs.ErrMaxLotsExceeded
	}
	if len(b.lots) > 0 && b.direction != l.Direction {
		return errs.ErrDirectionConflict
	}
	if len(b.lots) == 0 {
		b.direction = l.Direction
	}
	b.lots = append(b.lots, l)
	return nil
}

// CloseOldest removes and returns the oldest lot.
func (b *Book) CloseOldest() (Lot, bool) {
	if len(b.lots) == 0 {
		return Lot{}, false
	}
	l := b.lots[0]
	b.lots = b.lots[1:]
	b.resetDirectionIfEmpty()
	return l, true
}

// CloseNewest removes and returns the newest lot.
func (b *Book) CloseNewest() (Lot, bool) {
	if len(b.lots) == 0 {
		return Lot{}, false
	}
	n := len(b.lots) - 1
	l := b.lots[n]
	b.lots = b.lots[:n]
	b.resetDirectionIfEmpty()
	return l, true
}

// CloseOldestN removes and returns the oldest k lots (k is clamped to the
// book's size).
func (b *Book) CloseOldestN(k int) []Lot {
	if k <= 0 {
		return nil
	}
	if k > len(b.lots) {
		k = len(b.lots)
	}
	closed := make([]Lot, k)
	copy(closed, b.lots[:k])
	b.lots = b.lots[k:]
	b.resetDirectionIfEmpty()
	return closed
}

// CloseAll removes and returns every lot, oldest first.
func (b *Book) CloseAll() []Lot {
	closed := b.lots
	b.lots = nil
	b.resetDirectionIfEmpty()
	return closed
}

// CloseByID removes and returns the lot with the given id, wherever it sits
// in the sequence (used for STOP_LOSS/TAKE_PROFIT, which always target the
// oldest lot per spec but are looked up by id for robustness against
// concurrent book mutation between intent emission and fill).
func (b *Book) CloseByID(id string) (Lot, bool) {
	for i, l := range b.lots {
		if l.LotID == id {
			b.lots = append(b.lots[:i], b.lots[i+1:]...)
			b.resetDirectionIfEmpty()
			return l, true
		}
	}
	return Lot{}, false
}

func (b *Book) resetDirectionIfEmpty() {
	if len(b.lots) == 0 {
		b.direction = ""
	}
}

// AvgEntryPrice returns the size-weighted mean entry price across all lots.
// Returns zero if the book is empty.
func (b *Book) AvgEntryPrice() decimal.Decimal {
	if len(b.lots) == 0 {
		return decimal.Zero
	}
	var notional, size decimal.Decimal
	for _, l := range b.lots {
		notional = notional.Add(l.EntryPrice.Mul(l.Size))
		size = size.Add(l.Size)
	}
	if size.IsZero() {
		return decimal.Zero
	}
	return notional.Div(size)
}

// PrevEntryPrice returns the entry price of the most recent *remaining* lot
// (spec §9 Open Question 2, resolved as "most recent remaining").
func (b *Book) PrevEntryPrice() (decimal.Decimal, bool) {
	if len(b.lots) == 0 {
		return decimal.Zero, false
	}
	return b.Newest().EntryPrice, true
}

// Age returns now - lot.EntryTS for the given lot.
func (b *Book) Age(l Lot, now time.Time) time.Duration {
	return l.Age(now)
}
