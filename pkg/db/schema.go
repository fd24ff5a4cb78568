package db

import (
	"context"
	"fmt"
)

// migrations are applied in order; the index of the last applied one is
// stored in PRAGMA user_version. Append only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    instrument TEXT NOT NULL,
    side TEXT NOT NULL,
    qty INTEGER NOT NULL,
    price INTEGER NOT NULL,
    entry_price INTEGER DEFAULT 0,
    reason TEXT DEFAULT '',
    trade_day TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_day ON trades(trade_day);

CREATE TABLE IF NOT EXISTS holdings (
    instrument TEXT PRIMARY KEY,
    qty INTEGER NOT NULL,
    entry_price INTEGER NOT NULL,
    peak_price INTEGER NOT NULL,
    strategy TEXT DEFAULT '',
    opened_at INTEGER NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS balance_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account TEXT NOT NULL,
    raw TEXT NOT NULL,
    amount INTEGER NOT NULL,
    malformed INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`,

	`CREATE TABLE IF NOT EXISTS request_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    token TEXT NOT NULL,
    kind TEXT NOT NULL,
    subject TEXT NOT NULL,
    outcome TEXT NOT NULL,
    latency_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_balance_account ON balance_snapshots(account, id);`,
}

// ApplyMigrations brings the schema up to date. Running it again on a
// current database is a no-op.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	ctx := context.Background()

	var version int
	if err := d.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := d.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion reports how many migrations have been applied.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := d.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}
