package monitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"autotrade-core/internal/events"
)

// Monitor forwards risk alerts (take-profit, stop-loss, trailing exits,
// bans) to an AlertSink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Log  *zap.Logger
}

// Start subscribes to risk alerts until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		if m.Log != nil {
			m.Log.Warn("monitor not fully configured; skipping")
		}
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventRiskAlert, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if err := m.Sink.Send(formatAlert(msg)); err != nil && m.Log != nil {
					m.Log.Warn("alert delivery failed", zap.Error(err))
				}
			}
		}
	}()
}

func formatAlert(msg any) string {
	switch t := msg.(type) {
	case string:
		return t
	case events.RiskAlert:
		return fmt.Sprintf("[%s] %s %s", t.Kind, t.Instrument, t.Message)
	case fmt.Stringer:
		return t.String()
	default:
		return "alert triggered"
	}
}
