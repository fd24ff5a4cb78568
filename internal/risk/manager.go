package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrade-core/internal/balance"
	"autotrade-core/internal/events"
	"autotrade-core/internal/ledger"
	"autotrade-core/internal/monitor"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/logging"
)

// ErrOrderRejected wraps a non-zero broker ack.
var ErrOrderRejected = errors.New("order rejected by broker")

// Deps are the collaborators of a Manager. Orders, Prices, Ledger and
// Capital are required.
type Deps struct {
	Account string
	Orders  OrderSubmitter
	Prices  PriceSource
	Ledger  Recorder
	Capital *balance.Manager
	Store   HoldingStore
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Logger  *zap.Logger
	// OnSell runs after a position is closed, e.g. to re-query capital.
	OnSell func(instrument string)
	Now    func() time.Time
}

// Manager owns the holdings map and enforces entry and exit rules. All
// operations are serialized so concurrent callers cannot overspend capital
// or double-enter an instrument.
type Manager struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	mu         sync.Mutex
	holdings   map[string]*Holding
	rejections map[string]int
	banned     map[string]bool
}

// NewManager builds a risk manager.
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.SplitCount < 1 {
		cfg.SplitCount = 1
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		cfg:        cfg,
		deps:       deps,
		log:        logging.OrNop(deps.Logger).Named("risk"),
		holdings:   make(map[string]*Holding),
		rejections: make(map[string]int),
		banned:     make(map[string]bool),
	}
}

// SetAccount sets the account orders are placed for, known only after login.
func (m *Manager) SetAccount(account string) {
	m.mu.Lock()
	m.deps.Account = account
	m.mu.Unlock()
}

// GetConfig returns the active configuration.
func (m *Manager) GetConfig() Config { return m.cfg }

// TryEnter attempts a split entry into instrument. Tranche size is
// capital*ratio/100/splitCount; each tranche buys floor(split/price)
// shares at market and stops once capital drops below a tranche.
func (m *Manager) TryEnter(ctx context.Context, instrument, strategy string) EntryResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := EntryResult{Instrument: instrument}
	reject := func(reason string, fields ...zap.Field) EntryResult {
		res.Reason = reason
		m.log.Info("entry rejected", append([]zap.Field{zap.String("instrument", instrument), zap.String("reason", reason)}, fields...)...)
		return res
	}

	if m.banned[instrument] {
		return reject(RejectBanned)
	}
	if _, held := m.holdings[instrument]; held {
		return reject(RejectAlreadyHeld)
	}
	if len(m.holdings) >= m.cfg.MaxHoldingCount {
		return reject(RejectMaxHoldings, zap.Int("holdings", len(m.holdings)))
	}

	price, err := m.deps.Prices.CurrentPrice(ctx, instrument)
	if err != nil || price <= 0 {
		if m.deps.Metrics != nil {
			m.deps.Metrics.IncrementDataQuality()
		}
		return reject(RejectNoPrice, zap.Error(err))
	}
	res.Price = price

	capital := m.deps.Capital.Available()
	if capital < price {
		return reject(RejectInsufficient, zap.Int64("capital", capital), zap.Int64("price", price))
	}

	maxInvest := float64(capital) * m.cfg.PositionRatioCap / 100
	split := maxInvest / float64(m.cfg.SplitCount)
	m.log.Info("🛒 entry sizing",
		zap.String("instrument", instrument), zap.Int64("price", price),
		zap.Float64("max_invest", maxInvest), zap.Float64("split", split))

	var total int64
	rejected := false
	for i := 0; i < m.cfg.SplitCount; i++ {
		if float64(m.deps.Capital.Available()) < split {
			m.log.Info("capital below tranche size, stopping", zap.String("instrument", instrument), zap.Int("tranche", i+1))
			break
		}
		qty := int64(math.Floor(split / float64(price)))
		if qty < 1 {
			m.log.Info("tranche quantity is zero", zap.String("instrument", instrument), zap.Int("tranche", i+1))
			continue
		}

		if err := m.submit(ctx, instrument, broker.SideBuy, qty); err != nil {
			m.log.Warn("buy tranche not accepted", zap.String("instrument", instrument), zap.Int("tranche", i+1), zap.Error(err))
			rejected = true
			break
		}
		if err := m.deps.Capital.Deduct(qty * price); err != nil {
			m.log.Error("capital deduction after accepted order", zap.String("instrument", instrument), zap.Error(err))
		}
		total += qty
		res.Tranches++

		if _, err := m.deps.Ledger.Record(ctx, ledger.TradeRecord{
			Instrument: instrument, Side: ledger.SideBuy, Qty: qty, Price: price, Reason: strategy,
		}); err != nil {
			m.log.Error("ledger append failed", zap.String("instrument", instrument), zap.Error(err))
		}
	}

	if total == 0 {
		if rejected {
			return reject(RejectOrder)
		}
		return reject(RejectNoQuantity)
	}

	h := &Holding{
		Instrument: instrument,
		Qty:        total,
		EntryPrice: price,
		PeakPrice:  price,
		Strategy:   strategy,
		OpenedAt:   m.deps.Now(),
	}
	m.holdings[instrument] = h
	m.persist(ctx, *h)

	res.Entered = true
	res.Qty = total
	m.log.Info("✅ position opened", zap.String("instrument", instrument), zap.Int64("qty", total), zap.Int64("price", price))
	m.publish(events.EventPositionChange, events.PositionChange{Instrument: instrument, Opened: true, Qty: total, Price: price})
	return res
}

// TryExit evaluates the exit rules for a held instrument at price. The peak
// is raised before the rules run.
func (m *Manager) TryExit(ctx context.Context, instrument string, price int64) ExitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := ExitResult{Instrument: instrument, Price: price}
	h, ok := m.holdings[instrument]
	if !ok {
		return res
	}

	prevPeak := h.PeakPrice
	raisePeak(h, price)
	if h.PeakPrice != prevPeak {
		m.persist(ctx, *h)
	}

	reason, rate, fire := exitReason(m.cfg, *h, price)
	res.ProfitRate = rate
	if !fire {
		m.log.Debug("exit conditions not met", zap.String("instrument", instrument), zap.Float64("profit_rate", rate))
		return res
	}
	return m.closeLocked(ctx, h, price, reason, rate)
}

// ExitOnSignal closes a held position because a strategy emitted a sell.
func (m *Manager) ExitOnSignal(ctx context.Context, instrument string, price int64, reason ExitReason) ExitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holdings[instrument]
	if !ok {
		return ExitResult{Instrument: instrument, Price: price}
	}
	raisePeak(h, price)
	return m.closeLocked(ctx, h, price, reason, ledger.ProfitRate(h.EntryPrice, price))
}

// closeLocked sells the full quantity. A rejected sell leaves the position held.
func (m *Manager) closeLocked(ctx context.Context, h *Holding, price int64, reason ExitReason, rate float64) ExitResult {
	res := ExitResult{Instrument: h.Instrument, Price: price, ProfitRate: rate, Reason: reason}

	if err := m.submit(ctx, h.Instrument, broker.SideSell, h.Qty); err != nil {
		m.log.Warn("sell not accepted, position kept", zap.String("instrument", h.Instrument),
			zap.String("reason", string(reason)), zap.Error(err))
		return res
	}

	if _, err := m.deps.Ledger.Record(ctx, ledger.TradeRecord{
		Instrument: h.Instrument, Side: ledger.SideSell, Qty: h.Qty, Price: price,
		EntryPrice: h.EntryPrice, Reason: string(reason),
	}); err != nil {
		m.log.Error("ledger append failed", zap.String("instrument", h.Instrument), zap.Error(err))
	}

	delete(m.holdings, h.Instrument)
	if m.deps.Store != nil {
		if err := m.deps.Store.Remove(ctx, h.Instrument); err != nil {
			m.log.Warn("remove persisted holding", zap.String("instrument", h.Instrument), zap.Error(err))
		}
	}

	res.Exited = true
	res.Qty = h.Qty
	msg := fmt.Sprintf("%s at %d (%.2f%%), qty %d", reason, price, rate, h.Qty)
	m.log.Warn("📈 position closed", zap.String("instrument", h.Instrument), zap.String("reason", string(reason)),
		zap.Int64("price", price), zap.Float64("profit_rate", rate), zap.Int64("qty", h.Qty))
	m.publish(events.EventRiskAlert, events.RiskAlert{Kind: string(reason), Instrument: h.Instrument, Message: msg})
	m.publish(events.EventPositionChange, events.PositionChange{Instrument: h.Instrument, Qty: h.Qty, Price: price, Reason: string(reason)})

	if m.deps.OnSell != nil {
		m.deps.OnSell(h.Instrument)
	}
	return res
}

// submit sends a market order and tracks consecutive rejections per instrument.
func (m *Manager) submit(ctx context.Context, instrument string, side broker.Side, qty int64) error {
	req := broker.MarketOrder(m.deps.Account, instrument, side, qty)
	start := time.Now()
	code, err := m.deps.Orders.SubmitOrder(ctx, req)
	if m.deps.Metrics != nil {
		m.deps.Metrics.OrderLatency.RecordDuration(time.Since(start))
		m.deps.Metrics.IncrementOrders()
	}
	if err == nil && code == broker.AckAccepted {
		m.rejections[instrument] = 0
		return nil
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.IncrementRejections()
	}
	if err == nil {
		err = fmt.Errorf("%w: %s %s qty %d, code %d", ErrOrderRejected, side, instrument, qty, code)
	}
	m.publish(events.EventOrderRejected, events.RiskAlert{Kind: RejectOrder, Instrument: instrument, Message: err.Error()})

	m.rejections[instrument]++
	if m.cfg.MaxRejections > 0 && m.rejections[instrument] >= m.cfg.MaxRejections && !m.banned[instrument] {
		m.banned[instrument] = true
		m.log.Warn("🚫 instrument banned after repeated rejections",
			zap.String("instrument", instrument), zap.Int("rejections", m.rejections[instrument]))
		m.publish(events.EventRiskAlert, events.RiskAlert{
			Kind: RejectBanned, Instrument: instrument,
			Message: fmt.Sprintf("banned after %d rejected orders", m.rejections[instrument]),
		})
	}
	return err
}

func (m *Manager) persist(ctx context.Context, h Holding) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.Save(ctx, h); err != nil {
		m.log.Warn("persist holding", zap.String("instrument", h.Instrument), zap.Error(err))
	}
}

func (m *Manager) publish(e events.Event, payload any) {
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(e, payload)
	}
}

// Restore seeds holdings loaded at startup. Existing entries are kept.
func (m *Manager) Restore(list []Holding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range list {
		if _, exists := m.holdings[h.Instrument]; exists || h.Qty <= 0 {
			continue
		}
		h := h
		if h.PeakPrice < h.EntryPrice {
			h.PeakPrice = h.EntryPrice
		}
		m.holdings[h.Instrument] = &h
	}
}

// Holding returns the open position of instrument.
func (m *Manager) Holding(instrument string) (Holding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[instrument]
	if !ok {
		return Holding{}, false
	}
	return *h, true
}

// IsHeld reports whether instrument has an open position.
func (m *Manager) IsHeld(instrument string) bool {
	_, ok := m.Holding(instrument)
	return ok
}

// Holdings returns every open position sorted by instrument.
func (m *Manager) Holdings() []Holding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Holding, 0, len(m.holdings))
	for _, h := range m.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Banned returns the instruments excluded from entry for this session.
func (m *Manager) Banned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.banned))
	for code := range m.banned {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
