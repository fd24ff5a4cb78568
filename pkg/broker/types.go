package broker

import (
	"fmt"
	"time"
)

// Side is the broker's order side code.
type Side int

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return fmt.Sprintf("SIDE(%d)", int(s))
	}
}

// OrderType is the broker's pricing code.
type OrderType string

const (
	OrderTypeLimit  OrderType = "00"
	OrderTypeMarket OrderType = "03"
)

// ServerKind tells a paper-trading session from a real one.
type ServerKind string

const (
	ServerMock ServerKind = "mock"
	ServerReal ServerKind = "real"
)

// OrderScreen is the screen number reserved for orders.
const OrderScreen = "5000"

// OrderRequest captures an order intent.
type OrderRequest struct {
	Screen     string
	Account    string
	Instrument string
	Side       Side
	Qty        int64
	Price      int64 // 0 for market orders
	Type       OrderType
}

// MarketOrder builds a market order for account.
func MarketOrder(account, instrument string, side Side, qty int64) OrderRequest {
	return OrderRequest{
		Screen:     OrderScreen,
		Account:    account,
		Instrument: instrument,
		Side:       side,
		Qty:        qty,
		Type:       OrderTypeMarket,
	}
}

// Notification is any asynchronous message delivered by the broker.
type Notification interface {
	notification()
}

// LoginResult reports the outcome of Login. Code 0 is success.
type LoginResult struct {
	Code    int
	Account string
	Server  ServerKind
}

// ChartData answers a chart request.
type ChartData struct {
	Token      string
	Instrument string
	Closes     []string // newest first, raw
}

// BalanceData answers a balance request.
type BalanceData struct {
	Token        string
	Withdrawable string // raw, zero padded
}

// TickTypeTrade marks a realtime trade print; other types are ignored.
const TickTypeTrade = "trade"

// Tick is a realtime price notification. It is not correlated.
type Tick struct {
	Instrument string
	Type       string
	Price      string // raw, may carry a direction sign
	At         time.Time
}

// Execution reports an order fill; informational only.
type Execution struct {
	Instrument string
	Status     string
	FilledQty  string
	Price      string
}

func (LoginResult) notification() {}
func (ChartData) notification()   {}
func (BalanceData) notification() {}
func (Tick) notification()        {}
func (Execution) notification()   {}

// Token returns the correlation token of n, if it has one.
func Token(n Notification) (string, bool) {
	switch v := n.(type) {
	case ChartData:
		return v.Token, true
	case BalanceData:
		return v.Token, true
	default:
		return "", false
	}
}
