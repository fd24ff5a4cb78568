package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"autotrade-core/internal/export"
	"autotrade-core/internal/ledger"
	"autotrade-core/internal/risk"
	"autotrade-core/internal/state"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/broker/sim"
	"autotrade-core/pkg/config"
	"autotrade-core/pkg/db"
)

var sessionDay = time.Date(2024, 5, 2, 10, 0, 0, 0, time.Local)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TargetProfitRate:       5,
		MaxLossRate:            -3,
		PositionRatioCap:       20,
		TrailingStopRate:       3,
		SplitCount:             3,
		MaxHoldingCount:        5,
		MaxRejections:          3,
		MinHistory:             50,
		RequestTimeout:         time.Second,
		LoginTimeout:           time.Second,
		SubscribeBatchSize:     10,
		RealtimeFields:         "10",
		MarketOpen:             "08:00",
		MarketClose:            "18:00",
		MarketCheckInterval:    time.Hour,
		BalanceRefreshInterval: time.Hour,
		LogDir:                 t.TempDir(),
	}
}

func universe(t *testing.T, codes ...string) *config.Universe {
	t.Helper()
	doc := "instruments:\n"
	for _, c := range codes {
		doc += fmt.Sprintf("  - code: \"%s\"\n    name: test-%s\n", c, c)
	}
	u, err := config.ParseInstruments([]byte(doc))
	if err != nil {
		t.Fatalf("universe: %v", err)
	}
	return u
}

// goldenCross is a newest-first history whose last bar turns MACD above its signal.
func goldenCross() []int64 { return crossHistory(-100, 9_500) }

// deadCross mirrors goldenCross: a rally whose last bar turns MACD below its signal.
func deadCross() []int64 { return crossHistory(100, 10_500) }

func crossHistory(step, last int64) []int64 {
	oldest := make([]int64, 0, 60)
	for i := 0; i < 40; i++ {
		oldest = append(oldest, 10_000)
	}
	for i := int64(1); i < 20; i++ {
		oldest = append(oldest, 10_000+step*i)
	}
	oldest = append(oldest, last)
	out := make([]int64, len(oldest))
	for i, v := range oldest {
		out[len(out)-1-i] = v
	}
	return out
}

type memHoldings struct {
	mu   sync.Mutex
	rows map[string]risk.Holding
}

func newMemHoldings(list ...risk.Holding) *memHoldings {
	m := &memHoldings{rows: make(map[string]risk.Holding)}
	for _, h := range list {
		m.rows[h.Instrument] = h
	}
	return m
}

func (m *memHoldings) Load(context.Context) ([]risk.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]risk.Holding, 0, len(m.rows))
	for _, h := range m.rows {
		out = append(out, h)
	}
	return out, nil
}

func (m *memHoldings) Save(_ context.Context, h risk.Holding) error {
	m.mu.Lock()
	m.rows[h.Instrument] = h
	m.mu.Unlock()
	return nil
}

func (m *memHoldings) Remove(_ context.Context, instrument string) error {
	m.mu.Lock()
	delete(m.rows, instrument)
	m.mu.Unlock()
	return nil
}

func start(t *testing.T, s *Session) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func tick(gw *sim.Gateway, code string, price int64) {
	gw.SetPrice(code, price)
	gw.Push(broker.Tick{Instrument: code, Type: broker.TickTypeTrade, Price: fmt.Sprintf("+%d", price), At: time.Now()})
}

func TestSessionEntersAndTakesProfit(t *testing.T) {
	cfg := testConfig(t)
	gw := sim.New(sim.Config{
		Account:     "8012345611",
		Cash:        1_000_000,
		StartPrices: map[string]int64{"005930": 10_000, "000660": 90_000},
		Charts:      map[string][]int64{"005930": goldenCross()},
		Seed:        1,
	})
	s, err := New(cfg, Deps{Gateway: gw, Universe: universe(t, "005930", "000660"), Now: func() time.Time { return sessionDay }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	cancel, done := start(t, s)

	waitFor(t, "running phase", func() bool { return s.Status(ctx).Phase == PhaseRunning })
	st := s.Status(ctx)
	if st.Account != "8012345611" || st.Server != broker.ServerMock || st.Capital != 1_000_000 {
		t.Fatalf("unexpected status after start: %+v", st)
	}
	if !st.RealtimeOK || !st.Charts["005930"] {
		t.Fatalf("data acquisition incomplete: %+v", st)
	}
	if screens := gw.Screens(); len(screens["6000"]) != 2 {
		t.Fatalf("expected both instruments on screen 6000, got %v", screens)
	}

	tick(gw, "005930", 10_000)
	waitFor(t, "entry", func() bool { return len(s.Positions(ctx)) == 1 })
	if pos := s.Positions(ctx)[0]; pos.Qty != 18 || pos.EntryPrice != 10_000 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if c := s.Status(ctx).Capital; c != 820_000 {
		t.Errorf("expected capital 820000 after entry, got %d", c)
	}

	for _, p := range []int64{10_100, 10_300, 10_500} {
		tick(gw, "005930", p)
	}
	waitFor(t, "exit", func() bool { return len(s.Trades(ctx)) == 4 })
	trades := s.Trades(ctx)
	sell := trades[3]
	if sell.Side != ledger.SideSell || sell.Qty != 18 || sell.Price != 10_500 || sell.Reason != string(risk.ExitTakeProfit) {
		t.Fatalf("unexpected sell %+v", sell)
	}
	waitFor(t, "balance refresh after sell", func() bool { return s.Status(ctx).Capital == 1_009_000 })

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(gw.Orders()) != 4 {
		t.Errorf("expected 3 buys and 1 sell, got %d orders", len(gw.Orders()))
	}
	if len(gw.Screens()) != 0 {
		t.Errorf("screens left subscribed: %v", gw.Screens())
	}
	for _, path := range []string{export.TradeLogPath(cfg.LogDir, sessionDay), export.ProfitGraphPath(cfg.LogDir, sessionDay)} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing export %s: %v", filepath.Base(path), err)
		}
	}
	if s.Status(ctx).Phase != PhaseStopped {
		t.Error("phase not stopped")
	}
}

func TestSessionLoginFailureStillShutsDown(t *testing.T) {
	cfg := testConfig(t)
	gw := sim.New(sim.Config{LoginCode: -100})
	s, err := New(cfg, Deps{Gateway: gw, Universe: universe(t, "005930"), Now: func() time.Time { return sessionDay }})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Run(context.Background())
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
	if _, err := os.Stat(export.TradeLogPath(cfg.LogDir, sessionDay)); err != nil {
		t.Errorf("trade log not exported on failed login: %v", err)
	}
	if _, err := os.Stat(export.ProfitGraphPath(cfg.LogDir, sessionDay)); !os.IsNotExist(err) {
		t.Error("profit graph written without sells")
	}
	if err := gw.Login(context.Background()); !errors.Is(err, sim.ErrClosed) {
		t.Errorf("gateway not closed, Login returned %v", err)
	}
}

func TestSessionMarksFailedCharts(t *testing.T) {
	cfg := testConfig(t)
	cfg.RequestTimeout = 100 * time.Millisecond
	gw := sim.New(sim.Config{
		Silent: []string{"000660"},
		Charts: map[string][]int64{"035420": {300_000, 299_000, 298_000}},
		Seed:   2,
	})
	s, err := New(cfg, Deps{Gateway: gw, Universe: universe(t, "005930", "000660", "035420"), Now: func() time.Time { return sessionDay }})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cancel, done := start(t, s)

	waitFor(t, "running phase", func() bool { return s.Status(ctx).Phase == PhaseRunning })
	st := s.Status(ctx)
	want := map[string]bool{"005930": true, "000660": false, "035420": false}
	for code, ok := range want {
		if st.Charts[code] != ok {
			t.Errorf("chart %s: expected %v, got %v", code, ok, st.Charts[code])
		}
	}
	if st.Metrics.RequestTimeouts != 1 || st.Metrics.DataQuality != 2 {
		t.Errorf("unexpected metrics %+v", st.Metrics)
	}

	gw.Push(broker.Tick{Instrument: "005930", Type: broker.TickTypeTrade, Price: "N/A"})
	waitFor(t, "malformed tick counted", func() bool { return s.Status(ctx).Metrics.DataQuality == 3 })

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestSessionBatchesSubscriptions(t *testing.T) {
	codes := make([]string, 12)
	for i := range codes {
		codes[i] = fmt.Sprintf("%06d", 100+i)
	}
	gw := sim.New(sim.Config{Seed: 3})
	s, err := New(testConfig(t), Deps{Gateway: gw, Universe: universe(t, codes...), Now: func() time.Time { return sessionDay }})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cancel, done := start(t, s)

	waitFor(t, "running phase", func() bool { return s.Status(ctx).Phase == PhaseRunning })
	screens := gw.Screens()
	if len(screens["6000"]) != 10 || len(screens["6001"]) != 2 {
		t.Errorf("unexpected batches %v", screens)
	}
	cancel()
	waitDone(t, done)
}

func TestSessionEndsAtMarketClose(t *testing.T) {
	cfg := testConfig(t)
	cfg.MarketCheckInterval = 20 * time.Millisecond
	gw := sim.New(sim.Config{Seed: 4})
	after := time.Date(2024, 5, 2, 19, 0, 0, 0, time.Local)
	s, err := New(cfg, Deps{Gateway: gw, Universe: universe(t, "005930"), Now: func() time.Time { return after }})
	if err != nil {
		t.Fatal(err)
	}
	_, done := start(t, s)
	if err := waitDone(t, done); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
}

func TestSessionResumesPersistedHoldings(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatal(err)
	}
	store := state.NewStore(database)
	ctx := context.Background()
	if err := store.Save(ctx, risk.Holding{Instrument: "005930", Qty: 10, EntryPrice: 10_000, PeakPrice: 10_000, OpenedAt: sessionDay}); err != nil {
		t.Fatal(err)
	}

	gw := sim.New(sim.Config{Cash: 500_000, StartPrices: map[string]int64{"005930": 10_000}, Seed: 5})
	s, err := New(testConfig(t), Deps{Gateway: gw, Universe: universe(t, "005930"), Holdings: store, Now: func() time.Time { return sessionDay }})
	if err != nil {
		t.Fatal(err)
	}
	cancel, done := start(t, s)
	waitFor(t, "running phase", func() bool { return s.Status(ctx).Phase == PhaseRunning })
	if s.Status(ctx).Holdings != 1 {
		t.Fatal("persisted holding not restored")
	}

	tick(gw, "005930", 9_600)
	waitFor(t, "stop-loss exit", func() bool { return s.Status(ctx).Holdings == 0 })
	orders := gw.Orders()
	if len(orders) != 1 || orders[0].Side != broker.SideSell || orders[0].Qty != 10 {
		t.Fatalf("unexpected orders %+v", orders)
	}
	if list, _ := store.Load(ctx); len(list) != 0 {
		t.Errorf("closed holding still persisted: %+v", list)
	}
	cancel()
	waitDone(t, done)
}

func TestSessionDeadCrossClosesHeldPosition(t *testing.T) {
	cfg := testConfig(t)
	gw := sim.New(sim.Config{
		Cash:        500_000,
		StartPrices: map[string]int64{"005930": 10_000},
		Charts:      map[string][]int64{"005930": deadCross()},
		Seed:        6,
	})
	held := newMemHoldings(risk.Holding{Instrument: "005930", Qty: 10, EntryPrice: 10_000, PeakPrice: 10_000, OpenedAt: sessionDay})
	s, err := New(cfg, Deps{Gateway: gw, Universe: universe(t, "005930"), Holdings: held, Now: func() time.Time { return sessionDay }})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cancel, done := start(t, s)
	waitFor(t, "running phase", func() bool { return s.Status(ctx).Phase == PhaseRunning })

	// +1% trips none of the price rules, so only the dead cross can close it.
	tick(gw, "005930", 10_100)
	waitFor(t, "dead cross exit", func() bool { return len(s.Trades(ctx)) == 1 })

	sell := s.Trades(ctx)[0]
	if sell.Side != ledger.SideSell || sell.Qty != 10 || sell.Price != 10_100 || sell.Reason != string(risk.ExitDeadCross) {
		t.Fatalf("unexpected sell %+v", sell)
	}
	if s.Status(ctx).Holdings != 0 {
		t.Error("position still held after dead cross")
	}
	if list, _ := held.Load(ctx); len(list) != 0 {
		t.Errorf("closed holding still persisted: %+v", list)
	}
	cancel()
	waitDone(t, done)
}

func TestSessionFallsBackToBreakoutWithoutRealtime(t *testing.T) {
	cfg := testConfig(t)
	gw := sim.New(sim.Config{
		Cash:        1_000_000,
		StartPrices: map[string]int64{"005930": 10_000},
		Charts:      map[string][]int64{"005930": goldenCross()},
		FailScreens: []string{"6000"},
		Seed:        7,
	})
	s, err := New(cfg, Deps{Gateway: gw, Universe: universe(t, "005930"), Now: func() time.Time { return sessionDay }})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cancel, done := start(t, s)
	waitFor(t, "running phase", func() bool { return s.Status(ctx).Phase == PhaseRunning })

	st := s.Status(ctx)
	if st.RealtimeOK || !st.Charts["005930"] || len(st.Screens) != 0 {
		t.Fatalf("expected chart ok and realtime unavailable, got %+v", st)
	}

	tick(gw, "005930", 10_000)
	waitFor(t, "breakout entry", func() bool { return len(s.Positions(ctx)) == 1 })
	if pos := s.Positions(ctx)[0]; pos.Strategy != (strategy.Breakout{}).Name() || pos.Qty != 18 {
		t.Fatalf("expected breakout entry of 18 shares, got %+v", pos)
	}
	cancel()
	waitDone(t, done)
}

func TestMarketHoursIncludeClose(t *testing.T) {
	gw := sim.New(sim.Config{Seed: 8})
	t.Cleanup(func() { gw.Close() })
	s, err := New(testConfig(t), Deps{Gateway: gw, Universe: universe(t, "005930")})
	if err != nil {
		t.Fatal(err)
	}
	at := func(h, m, sec int) time.Time { return time.Date(2024, 5, 2, h, m, sec, 0, time.Local) }
	tests := []struct {
		at   time.Time
		want bool
	}{
		{at(7, 59, 59), false},
		{at(8, 0, 0), true},
		{at(18, 0, 0), true},
		{at(18, 0, 1), false},
	}
	for _, tt := range tests {
		if got := s.marketOpen(tt.at); got != tt.want {
			t.Errorf("marketOpen(%s) = %v, want %v", tt.at.Format("15:04:05"), got, tt.want)
		}
	}
}
