package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// DayFormat is the trade_day column layout (YYYYMMDD).
const DayFormat = "20060102"

// Trade is one executed fill in the ledger.
type Trade struct {
	ID         string
	Instrument string
	Side       string
	Qty        int64
	Price      int64
	EntryPrice int64 // cost basis of the closed position; 0 on buys
	Reason     string
	CreatedAt  time.Time
}

// Holding is a persisted open position.
type Holding struct {
	Instrument string
	Qty        int64
	EntryPrice int64
	PeakPrice  int64
	Strategy   string
	OpenedAt   time.Time
}

// BalanceSnapshot records a refresh of available capital.
type BalanceSnapshot struct {
	Account   string
	Raw       string
	Amount    int64
	Malformed bool
}

// RequestLog records the outcome of a correlated gateway request.
type RequestLog struct {
	Token   string
	Kind    string
	Subject string
	Outcome string
	Latency time.Duration
}

// InsertTradeQuery is exported for batched writers.
const InsertTradeQuery = `
	INSERT INTO trades (id, instrument, side, qty, price, entry_price, reason, trade_day, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertTradeArgs returns the positional args for InsertTradeQuery.
func InsertTradeArgs(t Trade) []any {
	return []any{t.ID, t.Instrument, t.Side, t.Qty, t.Price, t.EntryPrice, t.Reason,
		t.CreatedAt.Format(DayFormat), t.CreatedAt.UnixMilli()}
}

// CreateTrade inserts a ledger row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, InsertTradeQuery, InsertTradeArgs(t)...)
	return err
}

// ListTradesByDay returns the ledger rows of one trading day in insertion order.
func (d *Database) ListTradesByDay(ctx context.Context, day time.Time) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, instrument, side, qty, price, entry_price, COALESCE(reason, ''), created_at
		FROM trades WHERE trade_day = ?
		ORDER BY created_at ASC, rowid ASC`, day.Format(DayFormat))
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var (
			t  Trade
			ms int64
		)
		if err := rows.Scan(&t.ID, &t.Instrument, &t.Side, &t.Qty, &t.Price, &t.EntryPrice, &t.Reason, &ms); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.CreatedAt = time.UnixMilli(ms)
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpsertHolding stores the latest state of an open position.
func (d *Database) UpsertHolding(ctx context.Context, h Holding) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO holdings (instrument, qty, entry_price, peak_price, strategy, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(instrument) DO UPDATE SET
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			peak_price = excluded.peak_price,
			strategy = excluded.strategy,
			updated_at = CURRENT_TIMESTAMP
	`, h.Instrument, h.Qty, h.EntryPrice, h.PeakPrice, h.Strategy, h.OpenedAt.UnixMilli())
	return err
}

// DeleteHolding removes a closed position.
func (d *Database) DeleteHolding(ctx context.Context, instrument string) error {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM holdings WHERE instrument = ?`, instrument)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHoldings returns every open position.
func (d *Database) ListHoldings(ctx context.Context) ([]Holding, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT instrument, qty, entry_price, peak_price, COALESCE(strategy, ''), opened_at
		FROM holdings ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	var res []Holding
	for rows.Next() {
		var (
			h  Holding
			ms int64
		)
		if err := rows.Scan(&h.Instrument, &h.Qty, &h.EntryPrice, &h.PeakPrice, &h.Strategy, &ms); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		h.OpenedAt = time.UnixMilli(ms)
		res = append(res, h)
	}
	return res, rows.Err()
}

// InsertBalanceSnapshot appends a capital refresh.
func (d *Database) InsertBalanceSnapshot(ctx context.Context, s BalanceSnapshot) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO balance_snapshots (account, raw, amount, malformed) VALUES (?, ?, ?, ?)
	`, s.Account, s.Raw, s.Amount, boolToInt(s.Malformed))
	return err
}

// LatestBalance returns the most recent snapshot for account.
func (d *Database) LatestBalance(ctx context.Context, account string) (BalanceSnapshot, error) {
	var (
		s         BalanceSnapshot
		malformed int
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT account, raw, amount, malformed FROM balance_snapshots
		WHERE account = ? ORDER BY id DESC LIMIT 1`, account).Scan(&s.Account, &s.Raw, &s.Amount, &malformed)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Malformed = malformed != 0
	return s, nil
}

// InsertRequestLogQuery is exported for batched writers.
const InsertRequestLogQuery = `
	INSERT INTO request_log (token, kind, subject, outcome, latency_ms) VALUES (?, ?, ?, ?, ?)`

// InsertRequestLogArgs returns the positional args for InsertRequestLogQuery.
func InsertRequestLogArgs(r RequestLog) []any {
	return []any{r.Token, r.Kind, r.Subject, r.Outcome, r.Latency.Milliseconds()}
}

// InsertRequestLog appends a correlated request outcome.
func (d *Database) InsertRequestLog(ctx context.Context, r RequestLog) error {
	_, err := d.DB.ExecContext(ctx, InsertRequestLogQuery, InsertRequestLogArgs(r)...)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
