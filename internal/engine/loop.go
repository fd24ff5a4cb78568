package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autotrade-core/internal/events"
	"autotrade-core/internal/risk"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
)

// startDispatch reads the gateway stream. Correlated responses are resolved
// right away so a waiting request never depends on the main loop; the rest
// is forwarded in order to the inbox.
func (s *Session) startDispatch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.dispatchStop = cancel
	s.dispatchDone = make(chan struct{})
	notes := s.gw.Notifications()

	go func() {
		defer close(s.dispatchDone)
		defer close(s.inbox)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notes:
				if !ok {
					return
				}
				if token, correlated := broker.Token(n); correlated {
					s.corr.Resolve(token, n)
					continue
				}
				select {
				case s.inbox <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (s *Session) stopDispatch() {
	if s.dispatchStop == nil {
		return
	}
	s.dispatchStop()
	<-s.dispatchDone
}

// loop handles notifications strictly in arrival order, checks market
// hours and refreshes capital on tickers. Capital refreshes run here so
// they never interleave with an entry's deduction.
func (s *Session) loop(ctx context.Context) error {
	interval := s.cfg.MarketCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	market := time.NewTicker(interval)
	defer market.Stop()
	refresh := time.NewTicker(s.capital.Interval())
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-s.inbox:
			if !ok {
				s.log.Error("gateway stream ended")
				return ErrGatewayClosed
			}
			s.handle(ctx, n)
			s.drainRefreshQueue(ctx)
		case <-refresh.C:
			s.refreshCapital(ctx, "periodic")
		case <-market.C:
			if now := s.now(); !s.marketOpen(now) {
				s.log.Info("⏰ market closed, ending session", zap.Time("now", now))
				return ErrMarketClosed
			}
		}
	}
}

// handle processes one notification. A panic is logged and the loop goes on.
func (s *Session) handle(ctx context.Context, n broker.Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.IncrementErrors()
			s.log.Error("panic while handling notification",
				zap.Any("panic", r), zap.String("type", fmt.Sprintf("%T", n)), zap.Stack("stack"))
		}
	}()

	switch v := n.(type) {
	case broker.Tick:
		s.onTick(ctx, v)
	case broker.Execution:
		s.log.Info("execution notice", zap.String("instrument", v.Instrument),
			zap.String("status", v.Status), zap.String("filled_qty", v.FilledQty), zap.String("price", v.Price))
		s.bus.Publish(events.EventExecution, v)
	case broker.LoginResult:
		s.log.Warn("unexpected login result", zap.Int("code", v.Code))
	default:
		s.log.Debug("notification ignored", zap.String("type", fmt.Sprintf("%T", n)))
	}
}

func (s *Session) onTick(ctx context.Context, t broker.Tick) {
	if t.Type != broker.TickTypeTrade {
		return
	}
	code := t.Instrument
	if !s.universe.Contains(code) {
		s.log.Debug("tick for untracked instrument", zap.String("instrument", code))
		return
	}
	price, err := broker.ParsePrice(t.Price)
	if err != nil || price == 0 {
		s.metrics.IncrementDataQuality()
		s.log.Warn("malformed tick price", zap.String("instrument", code), zap.String("raw", t.Price), zap.Error(err))
		return
	}

	s.metrics.IncrementTicks()
	at := t.At
	if at.IsZero() {
		at = s.now()
	}
	s.prices.Set(code, price, at)
	s.bus.Publish(events.EventPriceTick, events.PriceTick{Instrument: code, Price: price, At: at})

	if s.risk.IsHeld(code) {
		if res := s.risk.TryExit(ctx, code, price); res.Exited {
			return
		}
		if sig := s.classify(code); sig.Action == strategy.ActionSell {
			s.publishSignal(sig)
			s.risk.ExitOnSignal(ctx, code, price, risk.ExitDeadCross)
		}
		return
	}

	sig := s.classify(code)
	if sig.Action != strategy.ActionBuy {
		return
	}
	s.publishSignal(sig)
	s.log.Info("🟢 buy signal", zap.String("instrument", code), zap.String("name", s.universe.Name(code)),
		zap.String("strategy", sig.Strategy), zap.String("note", sig.Note), zap.Int64("price", price))
	s.risk.TryEnter(ctx, code, sig.Strategy)
}

func (s *Session) classify(code string) strategy.Signal {
	s.mu.RLock()
	av := strategy.Availability{ChartOK: s.chartOK[code], RealtimeOK: s.realtimeOK}
	s.mu.RUnlock()

	sig, err := strategy.Classify(code, s.ind.Get(code), av)
	if err != nil {
		s.log.Debug("no signal", zap.String("instrument", code), zap.Error(err))
	}
	return sig
}

func (s *Session) publishSignal(sig strategy.Signal) {
	s.metrics.IncrementSignals()
	s.bus.Publish(events.EventStrategySignal, sig)
}
