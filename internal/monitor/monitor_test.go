package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"autotrade-core/internal/events"
)

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(4)
	if st := h.Stats(); st.Count != 0 {
		t.Fatalf("empty histogram count = %d", st.Count)
	}
	for _, v := range []float64{100, 1, 2, 3, 4} {
		h.Record(v)
	}
	st := h.Stats()
	if st.Count != 4 || st.Min != 1 || st.Max != 4 {
		t.Fatalf("oldest sample not evicted: %+v", st)
	}
	if st.Avg != 2.5 || st.P50 != 2 || st.P99 != 4 {
		t.Fatalf("unexpected stats %+v", st)
	}

	h.RecordDuration(10 * time.Millisecond)
	if st := h.Stats(); st.Max != 10 {
		t.Fatalf("cached stats not invalidated: %+v", st)
	}
}

func TestSnapshotCounters(t *testing.T) {
	m := NewSystemMetrics()
	m.IncrementTicks()
	m.IncrementTicks()
	m.IncrementOrders()
	m.IncrementRejections()
	m.IncrementTimeouts()
	m.IncrementDataQuality()

	s := m.GetSnapshot()
	if s.TicksProcessed != 2 || s.OrdersSubmitted != 1 || s.OrdersRejected != 1 ||
		s.RequestTimeouts != 1 || s.DataQuality != 1 || s.SignalsGenerated != 0 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

type recordingSink struct {
	mu  sync.Mutex
	got []string
}

func (r *recordingSink) Send(msg string) error {
	r.mu.Lock()
	r.got = append(r.got, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestMonitorForwardsRiskAlerts(t *testing.T) {
	bus := events.NewBus()
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	(&Monitor{Bus: bus, Sink: sink}).Start(ctx)

	bus.Publish(events.EventRiskAlert, events.RiskAlert{Kind: "take_profit", Instrument: "005930", Message: "+5.00%"})

	deadline := time.Now().Add(time.Second)
	for len(sink.messages()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("alert was not forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if msg := sink.messages()[0]; !strings.Contains(msg, "take_profit") || !strings.Contains(msg, "005930") {
		t.Fatalf("unexpected alert text %q", msg)
	}
}
