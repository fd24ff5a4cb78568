package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"autotrade-core/internal/export"
	"autotrade-core/internal/ledger"
)

// shutdown runs every cleanup step even when an earlier one fails.
func (s *Session) shutdown() {
	s.setPhase(PhaseStopping)
	s.corr.Shutdown()

	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.mu.RLock()
	screens := append([]string(nil), s.screens...)
	s.mu.RUnlock()
	for _, screen := range screens {
		if err := s.gw.Unsubscribe(ctx, screen); err != nil {
			s.log.Warn("unsubscribe failed", zap.String("screen", screen), zap.Error(err))
		}
	}

	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			s.log.Error("flush pending rows", zap.Error(err))
		}
	}

	s.exportArtifacts()

	if err := s.gw.Close(); err != nil {
		s.log.Warn("close gateway", zap.Error(err))
	}
	s.stopDispatch()
	s.setPhase(PhaseStopped)
	s.log.Info("🛑 session stopped", zap.Int("trades", s.ledger.Len()), zap.Any("metrics", s.metrics.GetSnapshot()))
}

func (s *Session) exportArtifacts() {
	day := s.now()
	records := s.ledger.Records()

	if path, err := export.WriteTradeLog(s.cfg.LogDir, day, records); err != nil {
		s.log.Error("trade log export failed", zap.Error(err))
	} else {
		s.log.Info("💾 trade log written", zap.String("path", path), zap.Int("records", len(records)))
	}

	path, err := export.WriteProfitGraph(s.cfg.LogDir, day, ledger.AggregateDaily(records), s.cfg.TargetProfitRate, s.cfg.MaxLossRate)
	switch {
	case errors.Is(err, export.ErrNoSells):
		s.log.Info("no sells today, profit graph skipped")
	case err != nil:
		s.log.Error("profit graph export failed", zap.Error(err))
	default:
		s.log.Info("📈 profit graph written", zap.String("path", path))
	}
}
