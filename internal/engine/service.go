package engine

import (
	"context"
	"time"

	"autotrade-core/internal/correlation"
	"autotrade-core/internal/ledger"
	"autotrade-core/internal/monitor"
	"autotrade-core/pkg/broker"
)

// Service is the read-only view the status API is allowed to use.
type Service interface {
	Status(ctx context.Context) Status
	Positions(ctx context.Context) []Position
	Trades(ctx context.Context) []ledger.TradeRecord
	DailyProfit(ctx context.Context) []ledger.DailyProfit
}

var _ Service = (*Session)(nil)

// Status summarizes the running session.
type Status struct {
	Phase      string                       `json:"phase"`
	Account    string                       `json:"account"`
	Server     broker.ServerKind            `json:"server"`
	StartedAt  time.Time                    `json:"started_at"`
	MarketOpen bool                         `json:"market_open"`
	Capital    int64                        `json:"capital"`
	LastSync   time.Time                    `json:"last_balance_sync"`
	Holdings   int                          `json:"holdings"`
	Banned     []string                     `json:"banned"`
	Charts     map[string]bool              `json:"charts"`
	RealtimeOK bool                         `json:"realtime_ok"`
	Screens    []string                     `json:"screens"`
	Pending    []correlation.PendingRequest `json:"pending_requests"`
	Metrics    monitor.MetricsSnapshot      `json:"metrics"`
	Dropped    uint64                       `json:"events_dropped"`
}

// Position is an open holding marked to the last cached price.
type Position struct {
	Instrument   string    `json:"instrument"`
	Name         string    `json:"name"`
	Qty          int64     `json:"qty"`
	EntryPrice   int64     `json:"entry_price"`
	PeakPrice    int64     `json:"peak_price"`
	CurrentPrice int64     `json:"current_price"`
	ProfitRate   float64   `json:"profit_rate"`
	Strategy     string    `json:"strategy"`
	OpenedAt     time.Time `json:"opened_at"`
}

func (s *Session) Status(ctx context.Context) Status {
	s.mu.RLock()
	st := Status{
		Phase:      s.phase,
		Account:    s.account,
		Server:     s.server,
		StartedAt:  s.startedAt,
		RealtimeOK: s.realtimeOK,
		Screens:    append([]string(nil), s.screens...),
		Charts:     make(map[string]bool, len(s.chartOK)),
	}
	for code, ok := range s.chartOK {
		st.Charts[code] = ok
	}
	s.mu.RUnlock()

	st.MarketOpen = s.MarketOpen()
	st.Capital = s.capital.Available()
	st.LastSync = s.capital.LastSync()
	st.Holdings = len(s.risk.Holdings())
	st.Banned = s.risk.Banned()
	st.Pending = s.corr.Pending()
	st.Metrics = s.metrics.GetSnapshot()
	st.Dropped = s.bus.Dropped()
	return st
}

func (s *Session) Positions(ctx context.Context) []Position {
	holdings := s.risk.Holdings()
	out := make([]Position, 0, len(holdings))
	for _, h := range holdings {
		p := Position{
			Instrument: h.Instrument,
			Name:       s.universe.Name(h.Instrument),
			Qty:        h.Qty,
			EntryPrice: h.EntryPrice,
			PeakPrice:  h.PeakPrice,
			Strategy:   h.Strategy,
			OpenedAt:   h.OpenedAt,
		}
		if q, ok := s.prices.Get(h.Instrument); ok {
			p.CurrentPrice = q.Price
			p.ProfitRate = ledger.ProfitRate(h.EntryPrice, q.Price)
		}
		out = append(out, p)
	}
	return out
}

func (s *Session) Trades(ctx context.Context) []ledger.TradeRecord {
	return s.ledger.Records()
}

func (s *Session) DailyProfit(ctx context.Context) []ledger.DailyProfit {
	return ledger.AggregateDaily(s.ledger.Records())
}
