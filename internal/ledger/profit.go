package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DailyProfit is the realized result of the sells closed on one day.
type DailyProfit struct {
	Day        string          `json:"day"` // YYYY-MM-DD
	Sells      int             `json:"sells"`
	Proceeds   decimal.Decimal `json:"proceeds"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
	Realized   decimal.Decimal `json:"realized"`
	ReturnRate decimal.Decimal `json:"return_rate"` // percent of cost basis
}

var hundred = decimal.NewFromInt(100)

// AggregateDaily groups sell records by calendar day, oldest day first.
// Buys do not contribute; a day without sells is absent.
func AggregateDaily(records []TradeRecord) []DailyProfit {
	byDay := make(map[string]*DailyProfit)
	for _, r := range records {
		if r.Side != SideSell {
			continue
		}
		day := r.Time.Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &DailyProfit{Day: day}
			byDay[day] = d
		}
		qty := decimal.NewFromInt(r.Qty)
		proceeds := decimal.NewFromInt(r.Price).Mul(qty)
		cost := decimal.NewFromInt(r.EntryPrice).Mul(qty)
		d.Sells++
		d.Proceeds = d.Proceeds.Add(proceeds)
		d.CostBasis = d.CostBasis.Add(cost)
		d.Realized = d.Realized.Add(proceeds.Sub(cost))
	}

	out := make([]DailyProfit, 0, len(byDay))
	for _, d := range byDay {
		if !d.CostBasis.IsZero() {
			d.ReturnRate = d.Realized.Div(d.CostBasis).Mul(hundred).Round(2)
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// ProfitRate is (price-entry)/entry*100, or 0 when entry is 0.
func ProfitRate(entry, price int64) float64 {
	if entry == 0 {
		return 0
	}
	return float64(price-entry) / float64(entry) * 100
}
