package risk

import (
	"github.com/shopspring/decimal"

	"autotrade-core/internal/ledger"
)

// raisePeak moves the high-water mark up; it never moves down.
func raisePeak(h *Holding, price int64) {
	if price > h.PeakPrice {
		h.PeakPrice = price
	}
}

var hundred = decimal.NewFromInt(100)

// trailingFloor is the price below which the trailing stop fires. A tick
// exactly on the floor keeps the position.
func trailingFloor(cfg Config, peak int64) decimal.Decimal {
	keep := hundred.Sub(decimal.NewFromFloat(cfg.TrailingStopRate)).Div(hundred)
	return decimal.NewFromInt(peak).Mul(keep)
}

// exitReason applies the exit rules in priority order: take profit, stop
// loss, then trailing stop. Only the first matching rule fires.
func exitReason(cfg Config, h Holding, price int64) (ExitReason, float64, bool) {
	rate := ledger.ProfitRate(h.EntryPrice, price)
	switch {
	case rate >= cfg.TargetProfitRate:
		return ExitTakeProfit, rate, true
	case rate <= cfg.MaxLossRate:
		return ExitStopLoss, rate, true
	case decimal.NewFromInt(price).LessThan(trailingFloor(cfg, h.PeakPrice)):
		return ExitTrailingStop, rate, true
	default:
		return "", rate, false
	}
}
