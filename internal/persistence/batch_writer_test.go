package persistence

import (
	"testing"
	"time"

	"autotrade-core/pkg/db"
)

func newDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func countTrades(t *testing.T, database *db.Database) int {
	t.Helper()
	var n int
	if err := database.DB.QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func trade(id string) []any {
	return db.InsertTradeArgs(db.Trade{ID: id, Instrument: "005930", Side: "BUY", Qty: 1, Price: 100, CreatedAt: time.Now()})
}

func TestFlushOnCloseAndSize(t *testing.T) {
	database := newDB(t)
	bw := NewBatchWriter(database.DB, 2, time.Hour, nil)

	bw.WriteQuery(db.InsertTradeQuery, trade("a")...)
	if bw.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", bw.Pending())
	}
	bw.WriteQuery(db.InsertTradeQuery, trade("b")...) // reaches maxSize
	if got := countTrades(t, database); got != 2 {
		t.Fatalf("size flush wrote %d rows, want 2", got)
	}

	bw.WriteQuery(db.InsertTradeQuery, trade("c")...)
	if err := bw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := countTrades(t, database); got != 3 {
		t.Errorf("close flush wrote %d rows total, want 3", got)
	}
	if m := bw.GetMetrics(); m.TotalWrites != 3 || m.TotalErrors != 0 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestFailedBatchIsRetained(t *testing.T) {
	database := newDB(t)
	bw := NewBatchWriter(database.DB, 10, time.Hour, nil)
	defer bw.Close()

	bw.WriteQuery(db.InsertTradeQuery, trade("dup")...)
	bw.WriteQuery(db.InsertTradeQuery, trade("dup")...)
	if err := bw.Flush(); err == nil {
		t.Fatal("expected primary key violation")
	}
	if bw.Pending() != 2 {
		t.Errorf("failed ops should be kept, pending = %d", bw.Pending())
	}
	if countTrades(t, database) != 0 {
		t.Error("failed batch must roll back")
	}
}
