package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"autotrade-core/pkg/broker"
)

// fakeBridge answers requests the way the bridge process does.
func fakeBridge(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			id, _ := req["id"].(string)
			switch req["op"] {
			case "login":
				_ = conn.WriteJSON(map[string]any{"type": "login", "code": 0, "account": "8012345611", "server": "1"})
			case "chart":
				_ = conn.WriteJSON(map[string]any{"type": "chart", "token": req["token"], "instrument": req["instrument"], "closes": []string{"-100", "99"}})
			case "order":
				order := req["order"].(map[string]any)
				code := 0
				if order["instrument"] == "000660" {
					code = -308
				}
				_ = conn.WriteJSON(map[string]any{"type": "reply", "id": id, "code": code})
				_ = conn.WriteJSON(map[string]any{"type": "tick", "instrument": "005930", "real_type": "주식체결", "price": "+10100"})
			case "last_price":
				_ = conn.WriteJSON(map[string]any{"type": "reply", "id": id, "price": "+70000"})
			case "subscribe":
				reply := map[string]any{"type": "reply", "id": id}
				if !strings.Contains(req["instruments"].(string), ";") {
					reply["error"] = "expected a batch"
				}
				_ = conn.WriteJSON(reply)
			default:
				_ = conn.WriteJSON(map[string]any{"type": "reply", "id": id})
			}
		}
	}))
}

func dialFake(t *testing.T) *Client {
	t.Helper()
	srv := fakeBridge(t)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(context.Background(), Options{URL: url, RequestsPerSecond: 1000, CallTimeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func recv(t *testing.T, c *Client) broker.Notification {
	t.Helper()
	select {
	case n := <-c.Notifications():
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
		return nil
	}
}

func TestLoginAndChartNotifications(t *testing.T) {
	c := dialFake(t)
	ctx := context.Background()

	if err := c.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	login, ok := recv(t, c).(broker.LoginResult)
	if !ok || login.Code != 0 || login.Server != broker.ServerMock || login.Account != "8012345611" {
		t.Fatalf("unexpected login %+v", login)
	}

	if err := c.RequestChart(ctx, "2001", "005930", time.Now()); err != nil {
		t.Fatalf("chart: %v", err)
	}
	chart, ok := recv(t, c).(broker.ChartData)
	if !ok || chart.Token != "2001" || len(chart.Closes) != 2 {
		t.Fatalf("unexpected chart %+v", chart)
	}
}

func TestSynchronousCalls(t *testing.T) {
	c := dialFake(t)
	ctx := context.Background()

	code, err := c.SubmitOrder(ctx, broker.MarketOrder("8012345611", "005930", broker.SideBuy, 3))
	if err != nil || code != 0 {
		t.Fatalf("order: %d %v", code, err)
	}
	tick, ok := recv(t, c).(broker.Tick)
	if !ok || tick.Type != broker.TickTypeTrade || tick.Price != "+10100" {
		t.Fatalf("unexpected tick %+v", tick)
	}

	code, err = c.SubmitOrder(ctx, broker.MarketOrder("8012345611", "000660", broker.SideBuy, 1))
	if err != nil || code != -308 {
		t.Fatalf("expected reject code, got %d %v", code, err)
	}

	price, err := c.LastPrice(ctx, "005930")
	if err != nil || price != "+70000" {
		t.Fatalf("last price: %q %v", price, err)
	}

	if err := c.Subscribe(ctx, "6000", []string{"005930", "000660"}, "10"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Subscribe(ctx, "6001", []string{"005930"}, "10"); err == nil {
		t.Fatal("expected bridge error to surface")
	}
}

func TestFrameDecoding(t *testing.T) {
	var in inbound
	if err := json.Unmarshal([]byte(`{"type":"execution","instrument":"005930","status":"체결","filled_qty":"10","price":"10500"}`), &in); err != nil {
		t.Fatal(err)
	}
	n, ok := toNotification(in)
	exec, isExec := n.(broker.Execution)
	if !ok || !isExec || exec.FilledQty != "10" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if _, ok := toNotification(inbound{Type: "heartbeat"}); ok {
		t.Error("unknown frame types must be dropped")
	}
	if serverKind("0") != broker.ServerReal {
		t.Error("server flag 0 is the real server")
	}
}
