// Package engine runs one trading session: login, data acquisition,
// realtime monitoring and the end-of-session shutdown sequence. All state
// lives on the Session value; there are no package-level globals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrade-core/internal/balance"
	"autotrade-core/internal/correlation"
	"autotrade-core/internal/events"
	"autotrade-core/internal/indicators"
	"autotrade-core/internal/ledger"
	"autotrade-core/internal/monitor"
	"autotrade-core/internal/risk"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/cache"
	"autotrade-core/pkg/config"
	"autotrade-core/pkg/crypto"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logging"
)

var (
	// ErrLoginFailed is returned when the broker rejects or never answers the login.
	ErrLoginFailed = errors.New("login failed")
	// ErrMarketClosed ends a session once the clock leaves market hours.
	ErrMarketClosed = errors.New("market closed")
	// ErrGatewayClosed means the notification stream ended unexpectedly.
	ErrGatewayClosed = errors.New("gateway notification stream closed")
)

// Phases reported by Status.
const (
	PhaseStarting  = "starting"
	PhaseLoggingIn = "logging_in"
	PhaseLoading   = "loading"
	PhaseRunning   = "running"
	PhaseStopping  = "stopping"
	PhaseStopped   = "stopped"
)

// quoteMaxAge bounds how old a cached tick may be when sizing an entry.
const quoteMaxAge = 30 * time.Second

// Writer batches ledger and request-log rows.
type Writer interface {
	WriteQuery(query string, args ...any)
	Flush() error
}

// HoldingStore persists open positions between sessions.
type HoldingStore interface {
	risk.HoldingStore
	Load(ctx context.Context) ([]risk.Holding, error)
}

// Deps are the collaborators a Session is built from. Gateway and Universe
// are required.
type Deps struct {
	Gateway   broker.Gateway
	Universe  *config.Universe
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	Writer    Writer
	Holdings  HoldingStore
	Snapshots balance.SnapshotStore
	Logger    *zap.Logger
	Now       func() time.Time
}

// Session is the orchestrator of a single trading day.
type Session struct {
	cfg      *config.Config
	gw       broker.Gateway
	universe *config.Universe
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
	writer   Writer
	holdings HoldingStore
	log      *zap.Logger
	now      func() time.Time

	openAt, closeAt time.Duration
	password        string

	corr    *correlation.Layer
	ind     *indicators.Engine
	capital *balance.Manager
	ledger  *ledger.Ledger
	risk    *risk.Manager
	prices  *cache.LastPrices

	inbox        chan broker.Notification
	dispatchStop context.CancelFunc
	dispatchDone chan struct{}
	// Sells queue a capital refresh here; only the loop goroutine touches it.
	refreshQueue []string

	mu         sync.RWMutex
	phase      string
	account    string
	server     broker.ServerKind
	startedAt  time.Time
	chartOK    map[string]bool
	realtimeOK bool
	screens    []string
}

// New wires a session from configuration. It fails on invalid market hours
// or an account password that cannot be revealed.
func New(cfg *config.Config, deps Deps) (*Session, error) {
	if deps.Gateway == nil || deps.Universe == nil {
		return nil, errors.New("engine: gateway and universe are required")
	}
	openAt, err := config.ParseClock(cfg.MarketOpen)
	if err != nil {
		return nil, err
	}
	closeAt, err := config.ParseClock(cfg.MarketClose)
	if err != nil {
		return nil, err
	}
	password, err := crypto.Reveal(cfg.AccountPassword, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("account password: %w", err)
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitor.NewSystemMetrics()
	}
	log := logging.OrNop(deps.Logger)

	s := &Session{
		cfg:      cfg,
		gw:       deps.Gateway,
		universe: deps.Universe,
		bus:      bus,
		metrics:  metrics,
		writer:   deps.Writer,
		holdings: deps.Holdings,
		log:      log.Named("engine"),
		now:      now,
		openAt:   openAt,
		closeAt:  closeAt,
		password: password,
		ind:      indicators.NewEngine(cfg.MinHistory, indicators.DefaultSpans()),
		prices:   cache.NewLastPrices(),
		inbox:    make(chan broker.Notification, 1024),
		phase:    PhaseStarting,
		chartOK:  make(map[string]bool),
	}

	s.corr = correlation.New(correlation.Options{
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Metrics:           metrics,
		Observer:          s.logRequest,
		Logger:            log,
	})

	var writer ledger.Writer
	if deps.Writer != nil {
		writer = deps.Writer
	}
	s.ledger = ledger.New(ledger.Options{
		Writer: writer,
		Now:    now,
		Logger: log,
		OnAdd:  func(r ledger.TradeRecord) { bus.Publish(events.EventTradeRecorded, r) },
	})

	s.capital = balance.NewManager(balance.Options{
		Fetcher:      s,
		Store:        deps.Snapshots,
		SyncInterval: cfg.BalanceRefreshInterval,
		Logger:       log,
		OnUpdate: func(amount int64, malformed bool) {
			bus.Publish(events.EventBalance, events.BalanceUpdate{Amount: amount, Malformed: malformed})
		},
	})

	var store risk.HoldingStore
	if deps.Holdings != nil {
		store = deps.Holdings
	}
	s.risk = risk.NewManager(risk.Config{
		TargetProfitRate: cfg.TargetProfitRate,
		MaxLossRate:      cfg.MaxLossRate,
		PositionRatioCap: cfg.PositionRatioCap,
		TrailingStopRate: cfg.TrailingStopRate,
		SplitCount:       cfg.SplitCount,
		MaxHoldingCount:  cfg.MaxHoldingCount,
		MaxRejections:    cfg.MaxRejections,
	}, risk.Deps{
		Orders:  deps.Gateway,
		Prices:  s,
		Ledger:  s.ledger,
		Capital: s.capital,
		Store:   store,
		Bus:     bus,
		Metrics: metrics,
		Logger:  log,
		OnSell:  s.refreshAfterSell,
		Now:     now,
	})
	return s, nil
}

// Run executes the session until ctx is cancelled, the market closes or the
// gateway goes away. The shutdown sequence runs on every path, including a
// failed login. Cancellation is a clean stop and returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	s.startDispatch()
	defer s.shutdown()

	err := s.start(ctx)
	if err == nil {
		err = s.loop(ctx)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Session) start(ctx context.Context) error {
	s.setPhase(PhaseLoggingIn)
	if err := s.login(ctx); err != nil {
		return err
	}

	s.setPhase(PhaseLoading)
	s.restoreHoldings(ctx)
	if err := s.capital.Sync(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Error("initial balance fetch failed, capital stays at 0", zap.Error(err))
	}
	if err := s.loadCharts(ctx); err != nil {
		return err
	}
	if err := s.subscribe(ctx); err != nil {
		return err
	}

	s.setPhase(PhaseRunning)
	s.log.Info("🚀 session running",
		zap.String("account", s.Account()), zap.Int("instruments", len(s.universe.Codes())),
		zap.Int("holdings", len(s.risk.Holdings())), zap.Int64("capital", s.capital.Available()))
	return nil
}

// Account returns the account reported at login.
func (s *Session) Account() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

func (s *Session) setPhase(p string) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// marketOpen reports whether t falls within [open, close] local time. The
// session ends only after the close instant.
func (s *Session) marketOpen(t time.Time) bool {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	off := t.Sub(midnight)
	return off >= s.openAt && off <= s.closeAt
}

// MarketOpen reports whether the session clock is inside market hours.
func (s *Session) MarketOpen() bool { return s.marketOpen(s.now()) }

// FetchBalance issues a correlated balance request and returns the raw
// withdrawable amount.
func (s *Session) FetchBalance(ctx context.Context) (string, error) {
	account := s.Account()
	payload, err := s.corr.Issue(ctx, correlation.KindBalance, account, func(ctx context.Context, token string) error {
		return s.gw.RequestBalance(ctx, token, account, s.password)
	})
	if err != nil {
		return "", err
	}
	data, ok := payload.(broker.BalanceData)
	if !ok {
		return "", fmt.Errorf("unexpected balance payload %T", payload)
	}
	return data.Withdrawable, nil
}

// CurrentPrice prefers a recent tick and falls back to the broker's last price.
func (s *Session) CurrentPrice(ctx context.Context, instrument string) (int64, error) {
	if p, ok := s.prices.Fresh(instrument, quoteMaxAge); ok {
		return p, nil
	}
	raw, err := s.gw.LastPrice(ctx, instrument)
	if err != nil {
		return 0, fmt.Errorf("last price %s: %w", instrument, err)
	}
	return broker.ParsePrice(raw)
}

// refreshAfterSell queues a capital re-query. It runs inside the risk
// manager's lock, so the request itself is made by the loop once the
// current notification is handled.
func (s *Session) refreshAfterSell(instrument string) {
	s.refreshQueue = append(s.refreshQueue, instrument)
}

// refreshCapital re-queries capital on the loop goroutine, so no entry can
// deduct while the broker figure is in flight. The dispatcher resolves the
// reply without the loop's help.
func (s *Session) refreshCapital(ctx context.Context, reason string) {
	err := s.capital.Sync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, balance.ErrSuperseded):
		s.log.Warn("capital refresh superseded", zap.String("reason", reason))
	default:
		s.log.Warn("capital refresh failed", zap.String("reason", reason), zap.Error(err))
	}
}

func (s *Session) drainRefreshQueue(ctx context.Context) {
	if len(s.refreshQueue) == 0 {
		return
	}
	sold := s.refreshQueue
	s.refreshQueue = nil
	s.refreshCapital(ctx, "sell "+strings.Join(sold, ","))
}

func (s *Session) restoreHoldings(ctx context.Context) {
	if s.holdings == nil {
		return
	}
	list, err := s.holdings.Load(ctx)
	if err != nil {
		s.log.Warn("could not restore holdings", zap.Error(err))
		return
	}
	if len(list) > 0 {
		s.risk.Restore(list)
		s.log.Info("restored open positions", zap.Int("count", len(list)))
	}
}

func (s *Session) logRequest(o correlation.Outcome) {
	if s.writer == nil {
		return
	}
	s.writer.WriteQuery(db.InsertRequestLogQuery, db.InsertRequestLogArgs(db.RequestLog{
		Token:   o.Token,
		Kind:    string(o.Kind),
		Subject: o.Subject,
		Outcome: o.Result,
		Latency: o.Latency,
	})...)
}
