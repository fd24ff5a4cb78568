package export

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"autotrade-core/internal/ledger"
)

var day = time.Date(2024, 5, 2, 15, 30, 0, 0, time.Local)

func TestWriteTradeLog(t *testing.T) {
	dir := t.TempDir()
	recs := []ledger.TradeRecord{
		{Time: day, Instrument: "005930", Side: ledger.SideBuy, Qty: 10, Price: 10_000, Reason: "cross"},
		{Time: day.Add(time.Minute), Instrument: "005930", Side: ledger.SideSell, Qty: 10, Price: 10_500, EntryPrice: 10_000, Reason: "take_profit"},
	}

	path, err := WriteTradeLog(dir, day, recs)
	if err != nil {
		t.Fatalf("WriteTradeLog: %v", err)
	}
	if filepath.Base(path) != "trade_log_20240502.csv" {
		t.Errorf("unexpected file name %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[1][5] != "" || rows[2][5] != "10000" {
		t.Errorf("entry price column: buy %q sell %q", rows[1][5], rows[2][5])
	}
	if rows[2][2] != "SELL" || rows[2][3] != "10" || rows[2][4] != "10500" {
		t.Errorf("unexpected sell row %v", rows[2])
	}
}

func TestWriteTradeLogEmpty(t *testing.T) {
	path, err := WriteTradeLog(t.TempDir(), day, nil)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if strings.Count(string(data), "\n") != 1 {
		t.Errorf("expected header only, got %q", data)
	}
}

func TestWriteProfitGraph(t *testing.T) {
	dir := t.TempDir()
	points := []ledger.DailyProfit{
		{Day: "2024-05-01", Sells: 1, ReturnRate: decimal.RequireFromString("-3")},
		{Day: "2024-05-02", Sells: 2, ReturnRate: decimal.RequireFromString("5.25")},
	}
	path, err := WriteProfitGraph(dir, day, points, 5, -3)
	if err != nil {
		t.Fatalf("WriteProfitGraph: %v", err)
	}
	if filepath.Base(path) != "profit_graph_20240502.svg" {
		t.Errorf("unexpected file name %s", path)
	}
	data, _ := os.ReadFile(path)
	svg := string(data)
	for _, want := range []string{`class="target"`, `class="stop-loss"`, `stroke-dasharray`, `class="profit"`, "2024-05-02"} {
		if !strings.Contains(svg, want) {
			t.Errorf("svg missing %s", want)
		}
	}
	if strings.Count(svg, "<circle") != 2 {
		t.Errorf("expected one marker per day")
	}
}

func TestWriteProfitGraphWithoutSells(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteProfitGraph(dir, day, nil, 5, -3); !errors.Is(err, ErrNoSells) {
		t.Fatalf("expected ErrNoSells, got %v", err)
	}
	if _, err := os.Stat(ProfitGraphPath(dir, day)); !os.IsNotExist(err) {
		t.Error("graph written without sells")
	}
}
