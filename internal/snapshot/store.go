// Package snapshot persists per-symbol lane state (open lots, cooldowns,
// indicator ring, last-seen bus id) and the quarantine log, via GORM, in
// the manner of ChoSanghyuk-blackholedex's MySQLRecorder — a small typed
// record model, AutoMigrate at Open, upsert-on-save. The teacher persists
// the same shape of information as a single atomic JSON file
// (trader.go's BotState/saveStateFrom); this store keeps that "snapshot
// the whole lane, restore the whole lane" contract but backs it with a
// real database so multiple executor processes can read the same state.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/quantlane/meanrev/internal/position"
)

// SymbolStateRecord is the persisted row for one symbol's lane.
type SymbolStateRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Symbol        string    `gorm:"uniqueIndex;not null"`
	Direction     string    `gorm:"size:8"`
	LotsJSON      string    `gorm:"type:text"`
	ClosesJSON    string    `gorm:"type:text"`
	ScaleInUntil  time.Time
	ScaleOutUntil time.Time
	LastBusID     string    `gorm:"size:64"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (SymbolStateRecord) TableName() string { return "symbol_states" }

// QuarantinedFillRecord is one fill the Reconciler could not apply without
// violating a book invariant (spec §7 late-fill policy, SPEC_FULL Part 5
// "quarantine log").
type QuarantinedFillRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"index;not null"`
	IntentID  string `gorm:"index;not null"`
	Action    string `gorm:"size:32"`
	Reason    string `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (QuarantinedFillRecord) TableName() string { return "quarantined_fills" }

// Store wraps the GORM handle for the snapshot/quarantine tables.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("snapshot: connect: %w", err)
	}
	if err := db.AutoMigrate(&SymbolStateRecord{}, &QuarantinedFillRecord{}); err != nil {
		return nil, fmt.Errorf("snapshot: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LaneState is the in-memory shape one symbol lane snapshots/restores.
type LaneState struct {
	Symbol        string
	Direction     position.Direction
	Lots          []position.Lot
	Closes        []decimal.Decimal
	ScaleInUntil  time.Time
	ScaleOutUntil time.Time
	LastBusID     string
}

// Save upserts the full lane snapshot for one symbol.
func (s *Store) Save(state LaneState) error {
	lotsJSON, err := json.Marshal(state.Lots)
	if err != nil {
		return fmt.Errorf("snapshot: marshal lots: %w", err)
	}
	closesJSON, err := json.Marshal(state.Closes)
	if err != nil {
		return fmt.Errorf("snapshot: marshal closes: %w", err)
	}

	rec := SymbolStateRecord{
		Symbol:        state.Symbol,
		Direction:     string(state.Direction),
		LotsJSON:      string(lotsJSON),
		ClosesJSON:    string(closesJSON),
		ScaleInUntil:  state.ScaleInUntil,
		ScaleOutUntil: state.ScaleOutUntil,
		LastBusID:     state.LastBusID,
	}

	result := s.db.Where("symbol = ?", state.Symbol).
		Assign(rec).
		FirstOrCreate(&SymbolStateRecord{})
	if result.Error != nil {
		return fmt.Errorf("snapshot: save %s: %w", state.Symbol, result.Error)
	}
	return nil
}

// Load restores the last saved snapshot for symbol, if any.
func (s *Store) Load(symbol string) (LaneState, bool, error) {
	var rec SymbolStateRecord
	result := s.db.Where("symbol = ?", symbol).First(&rec)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return LaneState{}, false, nil
		}
		return LaneState{}, false, fmt.Errorf("snapshot: load %s: %w", symbol, result.Error)
	}

	var lots []position.Lot
	if rec.LotsJSON != "" {
		if err := json.Unmarshal([]byte(rec.LotsJSON), &lots); err != nil {
			return LaneState{}, false, fmt.Errorf("snapshot: unmarshal lots: %w", err)
		}
	}
	var closes []decimal.Decimal
	if rec.ClosesJSON != "" {
		if err := json.Unmarshal([]byte(rec.ClosesJSON), &closes); err != nil {
			return LaneState{}, false, fmt.Errorf("snapshot: unmarshal closes: %w", err)
		}
	}

	return LaneState{
		Symbol:        rec.Symbol,
		Direction:     position.Direction(rec.Direction),
		Lots:          lots,
		Closes:        closes,
		ScaleInUntil:  rec.ScaleInUntil,
		ScaleOutUntil: rec.ScaleOutUntil,
		LastBusID:     rec.LastBusID,
	}, true, nil
}

// QuarantineFill appends a quarantined fill to the operator-visible log.
func (s *Store) QuarantineFill(symbol, intentID, action string, cause error) error {
	rec := QuarantinedFillRecord{
		Symbol:   symbol,
		IntentID: intentID,
		Action:   action,
		Reason:   cause.Error(),
	}
	if result := s.db.Create(&rec); result.Error != nil {
		return fmt.Errorf("snapshot: quarantine %s: %w", intentID, result.Error)
	}
	return nil
}

// PendingQuarantines returns every quarantined fill awaiting operator
// resolution, oldest first.
func (s *Store) PendingQuarantines() ([]QuarantinedFillRecord, error) {
	var out []QuarantinedFillRecord
	result := s.db.Order("created_at ASC").Find(&out)
	if result.Error != nil {
		return nil, fmt.Errorf("snapshot: list quarantines: %w", result.Error)
	}
	return out, nil
}
