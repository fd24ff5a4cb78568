package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autotrade-core/internal/correlation"
	"autotrade-core/internal/indicators"
	"autotrade-core/pkg/broker"
)

// login requests a session and waits for the LoginResult. Other
// notifications that arrive meanwhile are handled normally.
func (s *Session) login(ctx context.Context) error {
	if err := s.gw.Login(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	timer := time.NewTimer(s.cfg.LoginTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.log.Error("no login result", zap.Duration("timeout", s.cfg.LoginTimeout))
			return fmt.Errorf("%w: no answer within %s", ErrLoginFailed, s.cfg.LoginTimeout)
		case n, ok := <-s.inbox:
			if !ok {
				return fmt.Errorf("%w: %v", ErrLoginFailed, ErrGatewayClosed)
			}
			res, isLogin := n.(broker.LoginResult)
			if !isLogin {
				s.handle(ctx, n)
				continue
			}
			if res.Code != 0 {
				s.log.Error("❌ login rejected", zap.Int("code", res.Code))
				return fmt.Errorf("%w: code %d", ErrLoginFailed, res.Code)
			}
			s.mu.Lock()
			s.account = res.Account
			s.server = res.Server
			s.mu.Unlock()
			s.risk.SetAccount(res.Account)
			s.capital.SetAccount(res.Account)
			if res.Server == broker.ServerMock {
				s.log.Info("✅ logged in to the paper-trading server", zap.String("account", res.Account))
			} else {
				s.log.Warn("✅ logged in to the REAL trading server", zap.String("account", res.Account))
			}
			return nil
		}
	}
}

// loadCharts fetches daily closes for every target instrument. A failure
// marks only that instrument; cancellation aborts the whole phase.
func (s *Session) loadCharts(ctx context.Context) error {
	asOf := s.now()
	for _, code := range s.universe.Codes() {
		err := s.loadChart(ctx, code, asOf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.mu.Lock()
		s.chartOK[code] = err == nil
		s.mu.Unlock()
		if err != nil {
			s.metrics.IncrementDataQuality()
			s.log.Warn("chart unavailable", zap.String("instrument", code),
				zap.String("name", s.universe.Name(code)), zap.Error(err))
		}
	}
	return nil
}

func (s *Session) loadChart(ctx context.Context, code string, asOf time.Time) error {
	payload, err := s.corr.Issue(ctx, correlation.KindChart, code, func(ctx context.Context, token string) error {
		return s.gw.RequestChart(ctx, token, code, asOf)
	})
	if err != nil {
		return err
	}
	data, ok := payload.(broker.ChartData)
	if !ok {
		return fmt.Errorf("unexpected chart payload %T", payload)
	}
	closes, err := broker.ParseCloses(data.Closes)
	if err != nil {
		return err
	}
	set, err := s.ind.Load(code, closes)
	if err != nil {
		if errors.Is(err, indicators.ErrInsufficientHistory) {
			s.log.Warn("not enough history", zap.String("instrument", code), zap.Int("closes", len(closes)))
		}
		return err
	}
	c, ema, macd, sig := set.Last()
	s.log.Info("📊 indicators loaded", zap.String("instrument", code),
		zap.Float64("close", c), zap.Float64("ema_short", ema), zap.Float64("macd", macd), zap.Float64("signal", sig))
	return nil
}

// subscribe registers realtime prices in batches, one screen per batch.
// Any failed batch marks realtime data unavailable for the session.
func (s *Session) subscribe(ctx context.Context) error {
	ok := true
	for i, batch := range broker.Batches(s.universe.Codes(), s.cfg.SubscribeBatchSize) {
		screen := broker.RealtimeScreen(i)
		err := s.gw.Subscribe(ctx, screen, batch, s.cfg.RealtimeFields)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			ok = false
			s.log.Error("realtime subscription failed", zap.String("screen", screen), zap.Strings("instruments", batch), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.screens = append(s.screens, screen)
		s.mu.Unlock()
		s.log.Info("📡 subscribed", zap.String("screen", screen), zap.Int("instruments", len(batch)))
	}
	s.mu.Lock()
	s.realtimeOK = ok
	s.mu.Unlock()
	return nil
}
