// Package ledger keeps the append-only record of executed trades.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logging"
)

// Side of a recorded trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ErrInvalidRecord rejects records with a bad side, quantity or price.
var ErrInvalidRecord = errors.New("invalid trade record")

// TradeRecord is one executed fill.
type TradeRecord struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Qty        int64     `json:"qty"`
	Price      int64     `json:"price"`
	EntryPrice int64     `json:"entry_price,omitempty"` // cost basis, sells only
	Reason     string    `json:"reason,omitempty"`
}

// Writer receives ledger rows for persistence, typically a batch writer.
type Writer interface {
	WriteQuery(query string, args ...any)
}

// Ledger is safe for concurrent use. Records are never modified or removed.
type Ledger struct {
	mu      sync.RWMutex
	records []TradeRecord
	writer  Writer
	now     func() time.Time
	log     *zap.Logger
	onAdd   func(TradeRecord)
}

// Options configure a Ledger.
type Options struct {
	Writer Writer
	Now    func() time.Time
	Logger *zap.Logger
	OnAdd  func(TradeRecord)
}

// New creates an empty ledger.
func New(opts Options) *Ledger {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		writer: opts.Writer,
		now:    now,
		log:    logging.OrNop(opts.Logger).Named("ledger"),
		onAdd:  opts.OnAdd,
	}
}

// Record validates rec, stamps its id and time, and appends it.
func (l *Ledger) Record(ctx context.Context, rec TradeRecord) (TradeRecord, error) {
	if rec.Side != SideBuy && rec.Side != SideSell {
		return TradeRecord{}, fmt.Errorf("%w: side %q", ErrInvalidRecord, rec.Side)
	}
	if rec.Qty <= 0 || rec.Price < 0 || rec.EntryPrice < 0 {
		return TradeRecord{}, fmt.Errorf("%w: qty %d price %d", ErrInvalidRecord, rec.Qty, rec.Price)
	}
	if rec.Instrument == "" {
		return TradeRecord{}, fmt.Errorf("%w: empty instrument", ErrInvalidRecord)
	}
	rec.ID = uuid.NewString()
	if rec.Time.IsZero() {
		rec.Time = l.now()
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	if l.writer != nil {
		row := db.Trade{
			ID:         rec.ID,
			Instrument: rec.Instrument,
			Side:       string(rec.Side),
			Qty:        rec.Qty,
			Price:      rec.Price,
			EntryPrice: rec.EntryPrice,
			Reason:     rec.Reason,
			CreatedAt:  rec.Time,
		}
		l.writer.WriteQuery(db.InsertTradeQuery, db.InsertTradeArgs(row)...)
	}
	l.log.Info("📝 trade recorded",
		zap.String("instrument", rec.Instrument), zap.String("side", string(rec.Side)),
		zap.Int64("qty", rec.Qty), zap.Int64("price", rec.Price), zap.String("reason", rec.Reason))
	if l.onAdd != nil {
		l.onAdd(rec)
	}
	return rec, nil
}

// Records returns a copy of every record in insertion order.
func (l *Ledger) Records() []TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]TradeRecord(nil), l.records...)
}

// Len is the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// FromRows converts persisted trades back into records.
func FromRows(rows []db.Trade) []TradeRecord {
	out := make([]TradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, TradeRecord{
			ID:         r.ID,
			Time:       r.CreatedAt,
			Instrument: r.Instrument,
			Side:       Side(r.Side),
			Qty:        r.Qty,
			Price:      r.Price,
			EntryPrice: r.EntryPrice,
			Reason:     r.Reason,
		})
	}
	return out
}
