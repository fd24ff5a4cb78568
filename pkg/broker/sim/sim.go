// Package sim is an in-process broker for dry runs and tests. It walks
// prices randomly, keeps a cash balance and acknowledges orders.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"autotrade-core/pkg/broker"
)

// ErrClosed is returned by requests after Close.
var ErrClosed = errors.New("sim gateway closed")

// RejectCode is the ack code returned for instruments configured to reject.
const RejectCode = -308

// Config tunes the simulated session.
type Config struct {
	Account       string
	Server        broker.ServerKind
	LoginCode     int // non-zero simulates a failed login
	Cash          int64
	HistoryLength int           // daily closes returned per chart request
	TickInterval  time.Duration // 0 disables the background price walk
	StepPct       float64       // max per-tick move in percent
	StartPrices   map[string]int64
	Reject        []string           // instruments whose orders are rejected
	Silent        []string           // instruments whose chart requests never answer
	FailScreens   []string           // realtime screens whose subscription is refused
	Charts        map[string][]int64 // fixed newest-first histories, otherwise a random walk
	Seed          int64
}

// Gateway implements broker.Gateway in memory.
type Gateway struct {
	cfg Config

	mu      sync.Mutex
	rng     *rand.Rand
	prices  map[string]int64
	screens map[string][]string
	cash    int64
	orders  []broker.OrderRequest
	reject  map[string]bool
	silent  map[string]bool
	failScr map[string]bool

	queueMu sync.Mutex
	queue   []broker.Notification
	wake    chan struct{}

	notes     chan broker.Notification
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a simulated gateway.
func New(cfg Config) *Gateway {
	if cfg.Account == "" {
		cfg.Account = "8000000011"
	}
	if cfg.Server == "" {
		cfg.Server = broker.ServerMock
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = 120
	}
	if cfg.StepPct <= 0 {
		cfg.StepPct = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := &Gateway{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		prices:  make(map[string]int64),
		screens: make(map[string][]string),
		cash:    cfg.Cash,
		reject:  toSet(cfg.Reject),
		silent:  toSet(cfg.Silent),
		failScr: toSet(cfg.FailScreens),
		wake:    make(chan struct{}, 1),
		notes:   make(chan broker.Notification, 256),
		done:    make(chan struct{}),
	}
	for code, p := range cfg.StartPrices {
		g.prices[code] = p
	}

	g.wg.Add(1)
	go g.pump()
	if cfg.TickInterval > 0 {
		g.wg.Add(1)
		go g.walk()
	}
	return g
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, v := range list {
		m[v] = true
	}
	return m
}

func (g *Gateway) Notifications() <-chan broker.Notification { return g.notes }

func (g *Gateway) Login(ctx context.Context) error {
	if g.closed() {
		return ErrClosed
	}
	g.Push(broker.LoginResult{Code: g.cfg.LoginCode, Account: g.cfg.Account, Server: g.cfg.Server})
	return nil
}

func (g *Gateway) RequestChart(ctx context.Context, token, instrument string, asOf time.Time) error {
	if g.closed() {
		return ErrClosed
	}
	if g.silent[instrument] {
		return nil
	}

	if fixed, ok := g.cfg.Charts[instrument]; ok {
		closes := make([]string, len(fixed))
		for i, p := range fixed {
			closes[i] = strconv.FormatInt(p, 10)
		}
		g.Push(broker.ChartData{Token: token, Instrument: instrument, Closes: closes})
		return nil
	}

	g.mu.Lock()
	last := g.priceLocked(instrument)
	closes := make([]string, g.cfg.HistoryLength)
	p := last
	for i := range closes {
		closes[i] = strconv.FormatInt(p, 10)
		p = g.stepLocked(p)
	}
	g.mu.Unlock()

	g.Push(broker.ChartData{Token: token, Instrument: instrument, Closes: closes})
	return nil
}

func (g *Gateway) RequestBalance(ctx context.Context, token, account, password string) error {
	if g.closed() {
		return ErrClosed
	}
	g.mu.Lock()
	cash := g.cash
	g.mu.Unlock()
	g.Push(broker.BalanceData{Token: token, Withdrawable: fmt.Sprintf("%012d", cash)})
	return nil
}

func (g *Gateway) Subscribe(ctx context.Context, screen string, instruments []string, fields string) error {
	if g.closed() {
		return ErrClosed
	}
	if len(instruments) > broker.MaxBatch {
		return fmt.Errorf("subscribe %d instruments on screen %s: limit is %d", len(instruments), screen, broker.MaxBatch)
	}
	if g.failScr[screen] {
		return fmt.Errorf("subscribe screen %s: refused", screen)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.screens[screen] = append([]string(nil), instruments...)
	for _, code := range instruments {
		g.priceLocked(code)
	}
	return nil
}

func (g *Gateway) Unsubscribe(ctx context.Context, screen string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.screens, screen)
	return nil
}

func (g *Gateway) LastPrice(ctx context.Context, instrument string) (string, error) {
	if g.closed() {
		return "", ErrClosed
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return "+" + strconv.FormatInt(g.priceLocked(instrument), 10), nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, req broker.OrderRequest) (int, error) {
	if g.closed() {
		return 0, ErrClosed
	}
	if req.Qty <= 0 {
		return 0, fmt.Errorf("order qty must be positive, got %d", req.Qty)
	}

	g.mu.Lock()
	if g.reject[req.Instrument] {
		g.mu.Unlock()
		return RejectCode, nil
	}
	price := g.priceLocked(req.Instrument)
	switch req.Side {
	case broker.SideBuy:
		g.cash -= price * req.Qty
	case broker.SideSell:
		g.cash += price * req.Qty
	}
	g.orders = append(g.orders, req)
	g.mu.Unlock()

	g.Push(broker.Execution{
		Instrument: req.Instrument,
		Status:     "filled",
		FilledQty:  strconv.FormatInt(req.Qty, 10),
		Price:      strconv.FormatInt(price, 10),
	})
	return broker.AckAccepted, nil
}

// SetPrice moves the simulated price of instrument.
func (g *Gateway) SetPrice(instrument string, price int64) {
	g.mu.Lock()
	g.prices[instrument] = price
	g.mu.Unlock()
}

// Orders returns the accepted orders so far.
func (g *Gateway) Orders() []broker.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]broker.OrderRequest(nil), g.orders...)
}

// Screens returns the active subscriptions keyed by screen.
func (g *Gateway) Screens() map[string][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string][]string, len(g.screens))
	for k, v := range g.screens {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Push queues a notification. Order is preserved and the caller never blocks.
func (g *Gateway) Push(n broker.Notification) {
	g.queueMu.Lock()
	g.queue = append(g.queue, n)
	g.queueMu.Unlock()
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Gateway) Close() error {
	g.closeOnce.Do(func() { close(g.done) })
	g.wg.Wait()
	return nil
}

func (g *Gateway) closed() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// pump delivers queued notifications and closes the channel on shutdown.
func (g *Gateway) pump() {
	defer g.wg.Done()
	defer close(g.notes)
	for {
		g.queueMu.Lock()
		batch := g.queue
		g.queue = nil
		g.queueMu.Unlock()

		for _, n := range batch {
			select {
			case g.notes <- n:
			case <-g.done:
				return
			}
		}

		select {
		case <-g.wake:
		case <-g.done:
			return
		}
	}
}

func (g *Gateway) walk() {
	defer g.wg.Done()
	t := time.NewTicker(g.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-g.done:
			return
		case now := <-t.C:
			g.mu.Lock()
			var ticks []broker.Tick
			for _, codes := range g.screens {
				for _, code := range codes {
					prev := g.priceLocked(code)
					p := g.stepLocked(prev)
					g.prices[code] = p
					ticks = append(ticks, broker.Tick{
						Instrument: code,
						Type:       broker.TickTypeTrade,
						Price:      signed(p, prev),
						At:         now,
					})
				}
			}
			g.mu.Unlock()
			for _, tk := range ticks {
				g.Push(tk)
			}
		}
	}
}

// priceLocked returns the current price, seeding unknown instruments.
func (g *Gateway) priceLocked(code string) int64 {
	if p, ok := g.prices[code]; ok {
		return p
	}
	p := int64(5_000 + g.rng.Intn(95_000))
	g.prices[code] = p
	return p
}

func (g *Gateway) stepLocked(p int64) int64 {
	move := (g.rng.Float64()*2 - 1) * g.cfg.StepPct / 100
	next := int64(float64(p) * (1 + move))
	if next < 1 {
		next = 1
	}
	return next
}

// signed prefixes the direction against the previous print, as the broker does.
func signed(p, prev int64) string {
	if p >= prev {
		return "+" + strconv.FormatInt(p, 10)
	}
	return "-" + strconv.FormatInt(p, 10)
}
