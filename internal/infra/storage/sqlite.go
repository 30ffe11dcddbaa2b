package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quant_go/internal/bus"
	"quant_go/internal/domain"
)

// RunRecord identifies one simulation or trading session.
type RunRecord struct {
	ID         uint   `gorm:"primaryKey"`
	TraderID   string `gorm:"index"`
	StartedAt  time.Time
	FinishedAt *time.Time
	Note       string
}

// OrderEventRecord is one row per order event. Decimals are stored as
// strings to keep exact values across round trips.
type OrderEventRecord struct {
	ID            uint   `gorm:"primaryKey"`
	RunID         uint   `gorm:"index"`
	EventID       string `gorm:"uniqueIndex"`
	EventType     string
	StrategyID    string `gorm:"index"`
	InstrumentID  string `gorm:"index"`
	ClientOrderID string `gorm:"index"`
	VenueOrderID  string
	Reason        string
	TradeID       string
	FillQty       string
	FillPrice     string
	Commission    string
	TsEvent       int64 `gorm:"index"`
}

// PositionRecord snapshots a position after each change.
type PositionRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        uint   `gorm:"index"`
	PositionID   string `gorm:"index"`
	StrategyID   string
	InstrumentID string
	EventType    string
	Side         string
	Quantity     string
	AvgPxOpen    string
	RealizedPnl  string
	TsEvent      int64
}

// BalanceRecord is one currency row of an account snapshot.
type BalanceRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     uint   `gorm:"index"`
	AccountID string `gorm:"index"`
	Currency  string
	Total     string
	Locked    string
	TsEvent   int64 `gorm:"index"`
}

// RunStore persists the event streams of a run to SQLite so results
// can be inspected after the process exits.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore opens (and migrates) the store at path. The parent
// directory is created when missing.
func NewRunStore(path string) (*RunStore, error) {
	if path == "" {
		path = filepath.Join("data", "quant.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&RunRecord{}, &OrderEventRecord{}, &PositionRecord{}, &BalanceRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &RunStore{db: db}, nil
}

// BeginRun opens a run row and returns its id.
func (s *RunStore) BeginRun(traderID, note string) (uint, error) {
	run := RunRecord{TraderID: traderID, StartedAt: time.Now().UTC(), Note: note}
	if err := s.db.Create(&run).Error; err != nil {
		return 0, err
	}
	return run.ID, nil
}

// FinishRun stamps the run's end time.
func (s *RunStore) FinishRun(runID uint) error {
	now := time.Now().UTC()
	return s.db.Model(&RunRecord{}).Where("id = ?", runID).
		Update("finished_at", &now).Error
}

// SaveOrderEvent persists one order event.
func (s *RunStore) SaveOrderEvent(runID uint, ev domain.OrderEvent) error {
	rec := OrderEventRecord{
		RunID:         runID,
		EventID:       ev.EventID,
		EventType:     ev.Type.String(),
		StrategyID:    ev.StrategyID,
		InstrumentID:  ev.InstrumentID,
		ClientOrderID: ev.ClientOrderID,
		VenueOrderID:  ev.VenueOrderID,
		Reason:        ev.Reason,
		TradeID:       ev.TradeID,
		TsEvent:       ev.TsEvent,
	}
	if ev.Type == domain.EventOrderFilled {
		rec.FillQty = ev.FillQty.String()
		rec.FillPrice = ev.FillPrice.String()
		rec.Commission = ev.Commission.String()
	}
	return s.db.Create(&rec).Error
}

// SavePositionEvent persists one position snapshot.
func (s *RunStore) SavePositionEvent(runID uint, ev domain.PositionEvent) error {
	return s.db.Create(&PositionRecord{
		RunID:        runID,
		PositionID:   ev.PositionID,
		StrategyID:   ev.StrategyID,
		InstrumentID: ev.InstrumentID,
		EventType:    ev.Type.String(),
		Side:         ev.Side.String(),
		Quantity:     ev.Quantity.String(),
		AvgPxOpen:    ev.AvgPxOpen.String(),
		RealizedPnl:  ev.RealizedPnl.String(),
		TsEvent:      ev.TsEvent,
	}).Error
}

// SaveAccountState persists every balance row of an account snapshot.
func (s *RunStore) SaveAccountState(runID uint, st domain.AccountState) error {
	recs := make([]BalanceRecord, 0, len(st.Balances))
	for _, b := range st.Balances {
		recs = append(recs, BalanceRecord{
			RunID:     runID,
			AccountID: st.AccountID,
			Currency:  b.Currency,
			Total:     b.Total.String(),
			Locked:    b.Locked.String(),
			TsEvent:   st.TsEvent,
		})
	}
	if len(recs) == 0 {
		return nil
	}
	return s.db.Create(&recs).Error
}

// OrderEvents returns a run's order events in event time order.
func (s *RunStore) OrderEvents(runID uint) ([]OrderEventRecord, error) {
	var out []OrderEventRecord
	err := s.db.Where("run_id = ?", runID).Order("ts_event, id").Find(&out).Error
	return out, err
}

// EventsForOrder returns the lifecycle of one order within a run.
func (s *RunStore) EventsForOrder(runID uint, clientOrderID string) ([]OrderEventRecord, error) {
	var out []OrderEventRecord
	err := s.db.Where("run_id = ? AND client_order_id = ?", runID, clientOrderID).
		Order("ts_event, id").Find(&out).Error
	return out, err
}

// PositionEvents returns a run's position snapshots.
func (s *RunStore) PositionEvents(runID uint) ([]PositionRecord, error) {
	var out []PositionRecord
	err := s.db.Where("run_id = ?", runID).Order("ts_event, id").Find(&out).Error
	return out, err
}

// LastBalances returns the final balance rows of an account in a run,
// nil when the account never reported.
func (s *RunStore) LastBalances(runID uint, accountID string) ([]BalanceRecord, error) {
	var last BalanceRecord
	err := s.db.Where("run_id = ? AND account_id = ?", runID, accountID).
		Order("ts_event desc, id desc").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []BalanceRecord
	err = s.db.Where("run_id = ? AND account_id = ? AND ts_event = ?",
		runID, accountID, last.TsEvent).Find(&out).Error
	return out, err
}

// Run returns one run row, nil when absent.
func (s *RunStore) Run(runID uint) (*RunRecord, error) {
	var run RunRecord
	err := s.db.First(&run, runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Attach subscribes the store to a bus so the run's event streams are
// persisted as they happen. Returns the subscription ids for teardown.
func (s *RunStore) Attach(b *bus.Bus, runID uint) []int {
	ids := make([]int, 0, 3)
	ids = append(ids, b.Subscribe("events.order*", func(m bus.Message) {
		if ev, ok := m.Payload.(domain.OrderEvent); ok {
			_ = s.SaveOrderEvent(runID, ev)
		}
	}))
	ids = append(ids, b.Subscribe("events.position*", func(m bus.Message) {
		if ev, ok := m.Payload.(domain.PositionEvent); ok {
			_ = s.SavePositionEvent(runID, ev)
		}
	}))
	ids = append(ids, b.Subscribe("events.account*", func(m bus.Message) {
		if st, ok := m.Payload.(domain.AccountState); ok {
			_ = s.SaveAccountState(runID, st)
		}
	}))
	return ids
}
