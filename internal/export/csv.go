// Package export writes the end-of-session artifacts: the trade log and
// the daily profit graph.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"autotrade-core/internal/ledger"
)

// ErrNoSells means there is nothing to plot.
var ErrNoSells = errors.New("no sell records to plot")

const dayFormat = "20060102"

// TradeLogPath is <dir>/trade_log_YYYYMMDD.csv.
func TradeLogPath(dir string, day time.Time) string {
	return filepath.Join(dir, "trade_log_"+day.Format(dayFormat)+".csv")
}

// ProfitGraphPath is <dir>/profit_graph_YYYYMMDD.svg.
func ProfitGraphPath(dir string, day time.Time) string {
	return filepath.Join(dir, "profit_graph_"+day.Format(dayFormat)+".svg")
}

// WriteTradeLog writes every record, header first, and returns the file path.
// An empty ledger still produces a header-only file.
func WriteTradeLog(dir string, day time.Time, records []ledger.TradeRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := TradeLogPath(dir, day)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create trade log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"time", "instrument", "side", "qty", "price", "entry_price", "reason"})
	for _, r := range records {
		entry := ""
		if r.Side == ledger.SideSell {
			entry = strconv.FormatInt(r.EntryPrice, 10)
		}
		_ = w.Write([]string{
			r.Time.Format("2006-01-02 15:04:05"),
			r.Instrument,
			string(r.Side),
			strconv.FormatInt(r.Qty, 10),
			strconv.FormatInt(r.Price, 10),
			entry,
			r.Reason,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write trade log: %w", err)
	}
	return path, nil
}
