// Package bridge talks to the process hosting the brokerage control over a
// websocket carrying JSON frames.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/logging"
)

// ErrClosed is returned for calls made after the connection ended.
var ErrClosed = errors.New("bridge connection closed")

// Options configure the client.
type Options struct {
	URL               string
	RequestsPerSecond float64       // outbound request pacing; broker allows ~5/s
	CallTimeout       time.Duration // wait for synchronous replies
	Logger            *zap.Logger
}

// Client implements broker.Gateway over a websocket.
type Client struct {
	conn    *websocket.Conn
	limiter *rate.Limiter
	timeout time.Duration
	log     *zap.Logger

	writeMu sync.Mutex

	callsMu sync.Mutex
	calls   map[string]chan inbound

	notes     chan broker.Notification
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type outbound struct {
	ID          string      `json:"id,omitempty"`
	Op          string      `json:"op"`
	Token       string      `json:"token,omitempty"`
	Instrument  string      `json:"instrument,omitempty"`
	AsOf        string      `json:"as_of,omitempty"`
	Account     string      `json:"account,omitempty"`
	Password    string      `json:"password,omitempty"`
	Screen      string      `json:"screen,omitempty"`
	Instruments string      `json:"instruments,omitempty"` // ';' separated
	Fields      string      `json:"fields,omitempty"`
	Order       *orderFrame `json:"order,omitempty"`
}

type orderFrame struct {
	Screen     string `json:"screen"`
	Account    string `json:"account"`
	Side       int    `json:"side"`
	Instrument string `json:"instrument"`
	Qty        int64  `json:"qty"`
	Price      int64  `json:"price"`
	Type       string `json:"type"`
}

type inbound struct {
	Type         string   `json:"type"`
	ID           string   `json:"id,omitempty"`
	Code         int      `json:"code,omitempty"`
	Error        string   `json:"error,omitempty"`
	Token        string   `json:"token,omitempty"`
	Instrument   string   `json:"instrument,omitempty"`
	Closes       []string `json:"closes,omitempty"`
	Withdrawable string   `json:"withdrawable,omitempty"`
	Account      string   `json:"account,omitempty"`
	Server       string   `json:"server,omitempty"`
	RealType     string   `json:"real_type,omitempty"`
	Price        string   `json:"price,omitempty"`
	Status       string   `json:"status,omitempty"`
	FilledQty    string   `json:"filled_qty,omitempty"`
	At           int64    `json:"at,omitempty"` // unix millis
}

// Dial connects to the bridge and starts the read loop.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("bridge url is empty")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		conn:     conn,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		timeout:  timeout,
		log:      logging.OrNop(opts.Logger).Named("bridge"),
		calls:    make(map[string]chan inbound),
		notes:    make(chan broker.Notification, 256),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

func (c *Client) Notifications() <-chan broker.Notification { return c.notes }

func (c *Client) Login(ctx context.Context) error {
	return c.send(ctx, outbound{Op: "login"})
}

func (c *Client) RequestChart(ctx context.Context, token, instrument string, asOf time.Time) error {
	return c.send(ctx, outbound{Op: "chart", Token: token, Instrument: instrument, AsOf: asOf.Format("20060102")})
}

func (c *Client) RequestBalance(ctx context.Context, token, account, password string) error {
	return c.send(ctx, outbound{Op: "balance", Token: token, Account: account, Password: password})
}

func (c *Client) Subscribe(ctx context.Context, screen string, instruments []string, fields string) error {
	if len(instruments) > broker.MaxBatch {
		return fmt.Errorf("subscribe %d instruments on screen %s: limit is %d", len(instruments), screen, broker.MaxBatch)
	}
	reply, err := c.call(ctx, outbound{Op: "subscribe", Screen: screen, Instruments: strings.Join(instruments, ";"), Fields: fields})
	if err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("subscribe screen %s: %s", screen, reply.Error)
	}
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, screen string) error {
	_, err := c.call(ctx, outbound{Op: "unsubscribe", Screen: screen})
	return err
}

func (c *Client) LastPrice(ctx context.Context, instrument string) (string, error) {
	reply, err := c.call(ctx, outbound{Op: "last_price", Instrument: instrument})
	if err != nil {
		return "", err
	}
	if reply.Error != "" {
		return "", fmt.Errorf("last price %s: %s", instrument, reply.Error)
	}
	return reply.Price, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (int, error) {
	reply, err := c.call(ctx, outbound{Op: "order", Order: &orderFrame{
		Screen:     req.Screen,
		Account:    req.Account,
		Side:       int(req.Side),
		Instrument: req.Instrument,
		Qty:        req.Qty,
		Price:      req.Price,
		Type:       string(req.Type),
	}})
	if err != nil {
		return 0, err
	}
	if reply.Error != "" {
		return 0, fmt.Errorf("submit order %s: %s", req.Instrument, reply.Error)
	}
	return reply.Code, nil
}

// Close sends a normal closure and waits for the read loop to end.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	c.wg.Wait()
	return nil
}

// send paces and writes a fire-and-forget request.
func (c *Client) send(ctx context.Context, msg outbound) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Op, err)
	}
	return nil
}

// call sends a request carrying an id and waits for the matching reply.
func (c *Client) call(ctx context.Context, msg outbound) (inbound, error) {
	msg.ID = uuid.NewString()
	ch := make(chan inbound, 1)

	c.callsMu.Lock()
	c.calls[msg.ID] = ch
	c.callsMu.Unlock()
	defer func() {
		c.callsMu.Lock()
		delete(c.calls, msg.ID)
		c.callsMu.Unlock()
	}()

	if err := c.send(ctx, msg); err != nil {
		return inbound{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return inbound{}, fmt.Errorf("%s: no reply within %s", msg.Op, c.timeout)
	case <-ctx.Done():
		return inbound{}, ctx.Err()
	case <-c.done:
		return inbound{}, ErrClosed
	case <-c.readDone:
		return inbound{}, ErrClosed
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.readDone)
	defer close(c.notes)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("bridge closed the connection")
			} else {
				c.log.Error("bridge read error", zap.Error(err))
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.log.Warn("bridge frame parse error", zap.Error(err), zap.ByteString("frame", data))
			continue
		}

		if in.Type == "reply" {
			c.callsMu.Lock()
			ch, ok := c.calls[in.ID]
			c.callsMu.Unlock()
			if !ok {
				c.log.Warn("reply for unknown call", zap.String("id", in.ID))
				continue
			}
			select {
			case ch <- in:
			default:
			}
			continue
		}

		n, ok := toNotification(in)
		if !ok {
			c.log.Warn("unknown bridge frame type", zap.String("type", in.Type))
			continue
		}
		select {
		case c.notes <- n:
		case <-c.done:
			return
		}
	}
}

func toNotification(in inbound) (broker.Notification, bool) {
	switch in.Type {
	case "login":
		return broker.LoginResult{Code: in.Code, Account: in.Account, Server: serverKind(in.Server)}, true
	case "chart":
		return broker.ChartData{Token: in.Token, Instrument: in.Instrument, Closes: in.Closes}, true
	case "balance":
		return broker.BalanceData{Token: in.Token, Withdrawable: in.Withdrawable}, true
	case "tick":
		at := time.Now()
		if in.At > 0 {
			at = time.UnixMilli(in.At)
		}
		return broker.Tick{Instrument: in.Instrument, Type: tickType(in.RealType), Price: in.Price, At: at}, true
	case "execution":
		return broker.Execution{Instrument: in.Instrument, Status: in.Status, FilledQty: in.FilledQty, Price: in.Price}, true
	default:
		return nil, false
	}
}

// serverKind maps the bridge's server flag; "1" is the paper-trading server.
func serverKind(v string) broker.ServerKind {
	switch strings.ToLower(v) {
	case "1", "mock":
		return broker.ServerMock
	default:
		return broker.ServerReal
	}
}

func tickType(v string) string {
	switch v {
	case "", "trade", "주식체결":
		return broker.TickTypeTrade
	default:
		return v
	}
}
