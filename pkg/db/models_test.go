package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestTradesByDay(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	day := time.Date(2024, 5, 2, 9, 30, 0, 0, time.Local)
	rows := []Trade{
		{ID: "t1", Instrument: "005930", Side: "BUY", Qty: 10, Price: 10000, CreatedAt: day},
		{ID: "t2", Instrument: "005930", Side: "SELL", Qty: 10, Price: 10500, EntryPrice: 10000, Reason: "take_profit", CreatedAt: day.Add(time.Minute)},
		{ID: "t3", Instrument: "000660", Side: "BUY", Qty: 1, Price: 90000, CreatedAt: day.AddDate(0, 0, 1)},
	}
	for _, tr := range rows {
		if err := database.CreateTrade(ctx, tr); err != nil {
			t.Fatalf("create trade %s: %v", tr.ID, err)
		}
	}

	got, err := database.ListTradesByDay(ctx, day)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 trades on %s, got %d", day.Format(DayFormat), len(got))
	}
	if got[0].ID != "t1" || got[1].ID != "t2" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].EntryPrice != 10000 || got[1].Reason != "take_profit" {
		t.Errorf("sell row lost fields: %+v", got[1])
	}
	if !got[1].CreatedAt.Equal(day.Add(time.Minute)) {
		t.Errorf("timestamp round trip: %v", got[1].CreatedAt)
	}
}

func TestHoldings(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	opened := time.UnixMilli(1_700_000_000_000)

	h := Holding{Instrument: "005930", Qty: 10, EntryPrice: 10000, PeakPrice: 10000, Strategy: "cross", OpenedAt: opened}
	if err := database.UpsertHolding(ctx, h); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	h.PeakPrice = 10500
	if err := database.UpsertHolding(ctx, h); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	list, err := database.ListHoldings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].PeakPrice != 10500 || list[0].Strategy != "cross" {
		t.Fatalf("unexpected holdings: %+v", list)
	}

	if err := database.DeleteHolding(ctx, "005930"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := database.DeleteHolding(ctx, "005930"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestBalance(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if _, err := database.LatestBalance(ctx, "8012345611"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = database.InsertBalanceSnapshot(ctx, BalanceSnapshot{Account: "8012345611", Raw: "000000500000", Amount: 500000})
	_ = database.InsertBalanceSnapshot(ctx, BalanceSnapshot{Account: "8012345611", Raw: "N/A", Amount: 0, Malformed: true})

	s, err := database.LatestBalance(ctx, "8012345611")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !s.Malformed || s.Amount != 0 {
		t.Errorf("expected malformed zero snapshot, got %+v", s)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second run: %v", err)
	}
	v, err := database.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("schema version = %d, want %d", v, len(migrations))
	}
}
