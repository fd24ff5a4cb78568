package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"autotrade-core/internal/engine"
	"autotrade-core/internal/events"
	"autotrade-core/internal/ledger"
	"autotrade-core/pkg/db"
)

type fakeSession struct {
	trades []ledger.TradeRecord
}

func (f *fakeSession) Status(context.Context) engine.Status {
	return engine.Status{Phase: engine.PhaseRunning, Account: "8012345611", Capital: 820_000, Holdings: 1}
}

func (f *fakeSession) Positions(context.Context) []engine.Position {
	return []engine.Position{{Instrument: "005930", Qty: 18, EntryPrice: 10_000, CurrentPrice: 10_300, ProfitRate: 3}}
}

func (f *fakeSession) Trades(context.Context) []ledger.TradeRecord { return f.trades }

func (f *fakeSession) DailyProfit(context.Context) []ledger.DailyProfit {
	return ledger.AggregateDaily(f.trades)
}

type fakeHistory struct {
	day time.Time
}

func (h *fakeHistory) ListTradesByDay(_ context.Context, day time.Time) ([]db.Trade, error) {
	h.day = day
	return []db.Trade{{ID: "t1", Instrument: "000660", Side: "SELL", Qty: 2, Price: 95_000, EntryPrice: 90_000, CreatedAt: day.Add(10 * time.Hour)}}, nil
}

func newTestServer(t *testing.T, secret string) (*Server, *fakeHistory) {
	t.Helper()
	at := time.Date(2024, 5, 2, 9, 30, 0, 0, time.Local)
	sess := &fakeSession{trades: []ledger.TradeRecord{
		{ID: "b", Time: at, Instrument: "005930", Side: ledger.SideBuy, Qty: 10, Price: 10_000},
		{ID: "s", Time: at.Add(time.Hour), Instrument: "005930", Side: ledger.SideSell, Qty: 10, Price: 10_500, EntryPrice: 10_000},
	}}
	hist := &fakeHistory{}
	return NewServer(Options{Session: sess, Bus: events.NewBus(), History: hist, TokenSecret: secret, RateLimit: 1000}), hist
}

func get(t *testing.T, s *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestHealthAndRequestID(t *testing.T) {
	s, _ := newTestServer(t, "")
	w := get(t, s, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestStatusAndPositions(t *testing.T) {
	s, _ := newTestServer(t, "")

	w := get(t, s, "/api/status", "")
	var st engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Phase != engine.PhaseRunning || st.Capital != 820_000 {
		t.Errorf("unexpected status %+v", st)
	}

	w = get(t, s, "/api/positions", "")
	var pos []engine.Position
	if err := json.Unmarshal(w.Body.Bytes(), &pos); err != nil {
		t.Fatalf("decode positions: %v", err)
	}
	if len(pos) != 1 || pos[0].Qty != 18 {
		t.Errorf("unexpected positions %+v", pos)
	}
}

func TestTradesAndDailyProfit(t *testing.T) {
	s, hist := newTestServer(t, "")

	w := get(t, s, "/api/trades", "")
	var recs []ledger.TradeRecord
	_ = json.Unmarshal(w.Body.Bytes(), &recs)
	if len(recs) != 2 {
		t.Fatalf("expected session trades, got %d", len(recs))
	}

	w = get(t, s, "/api/profit/daily", "")
	var days []ledger.DailyProfit
	if err := json.Unmarshal(w.Body.Bytes(), &days); err != nil {
		t.Fatalf("decode profit: %v", err)
	}
	if len(days) != 1 || days[0].Sells != 1 || days[0].Realized.IntPart() != 5_000 {
		t.Errorf("unexpected daily profit %+v", days)
	}

	w = get(t, s, "/api/trades?date=20240501", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history request: %d %s", w.Code, w.Body.String())
	}
	if hist.day.Format(db.DayFormat) != "20240501" {
		t.Errorf("history queried for %v", hist.day)
	}
	if !strings.Contains(w.Body.String(), "000660") {
		t.Errorf("history trades missing: %s", w.Body.String())
	}

	if w := get(t, s, "/api/trades?date=2024-05-01", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad date, got %d", w.Code)
	}
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t, "s3cret")

	if w := get(t, s, "/api/status", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := get(t, s, "/api/status", "garbage"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a bad token, got %d", w.Code)
	}
	expired, _ := GenerateToken("ops", "s3cret", time.Now().Add(-time.Minute))
	if w := get(t, s, "/api/status", expired); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an expired token, got %d", w.Code)
	}

	token, err := GenerateToken("ops", "s3cret", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if w := get(t, s, "/api/status", token); w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
	if w := get(t, s, "/health", ""); w.Code != http.StatusOK {
		t.Error("health must stay public")
	}
}

func TestRateLimit(t *testing.T) {
	s := NewServer(Options{Session: &fakeSession{}, RateLimit: 1})
	limited := false
	for i := 0; i < 10; i++ {
		if get(t, s, "/health", "").Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected 429 after the burst")
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	s, _ := newTestServer(t, "")
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				s.bus.Publish(events.EventPriceTick, events.PriceTick{Instrument: "005930", Price: 10_100})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg struct {
		Event   string           `json:"event"`
		Payload events.PriceTick `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != string(events.EventPriceTick) || msg.Payload.Price != 10_100 {
		t.Errorf("unexpected message %+v", msg)
	}
}
