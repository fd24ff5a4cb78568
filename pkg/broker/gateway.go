// Package broker defines the contract between the trading core and the
// brokerage control that owns login, charts, balances, realtime prices and orders.
package broker

import (
	"context"
	"time"
)

// Gateway abstracts the brokerage session. Request methods return once the
// request has been handed to the broker; responses arrive on Notifications
// in the order the broker produced them.
type Gateway interface {
	// Login starts the session; the outcome arrives as a LoginResult.
	Login(ctx context.Context) error
	// RequestChart asks for daily closes of instrument up to asOf, newest first.
	RequestChart(ctx context.Context, token, instrument string, asOf time.Time) error
	// RequestBalance asks for the withdrawable cash of account.
	RequestBalance(ctx context.Context, token, account, password string) error
	// Subscribe registers realtime prices for up to MaxBatch instruments on screen.
	Subscribe(ctx context.Context, screen string, instruments []string, fields string) error
	Unsubscribe(ctx context.Context, screen string) error
	// LastPrice returns the raw master last price of instrument.
	LastPrice(ctx context.Context, instrument string) (string, error)
	// SubmitOrder returns the broker's ack code; 0 means accepted.
	SubmitOrder(ctx context.Context, req OrderRequest) (int, error)
	Notifications() <-chan Notification
	Close() error
}

// MaxBatch is the most instruments a single Subscribe call may carry.
const MaxBatch = 10

// AckAccepted is the ack code of an accepted order.
const AckAccepted = 0
