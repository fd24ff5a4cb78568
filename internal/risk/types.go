package risk

import (
	"context"
	"time"

	"autotrade-core/internal/ledger"
	"autotrade-core/pkg/broker"
)

// Config defines the entry sizing and exit thresholds. Rates are percent.
type Config struct {
	TargetProfitRate float64 `json:"target_profit_rate"` // take profit at or above
	MaxLossRate      float64 `json:"max_loss_rate"`      // stop loss at or below (negative)
	PositionRatioCap float64 `json:"position_ratio_cap"` // share of capital per entry
	TrailingStopRate float64 `json:"trailing_stop_rate"` // drawdown from peak
	SplitCount       int     `json:"split_count"`
	MaxHoldingCount  int     `json:"max_holding_count"`
	MaxRejections    int     `json:"max_rejections"` // consecutive rejected acks before a ban; 0 disables
}

// DefaultConfig returns the standard session parameters.
func DefaultConfig() Config {
	return Config{
		TargetProfitRate: 5,
		MaxLossRate:      -3,
		PositionRatioCap: 20,
		TrailingStopRate: 3,
		SplitCount:       3,
		MaxHoldingCount:  5,
		MaxRejections:    3,
	}
}

// Holding is an open position. At most one exists per instrument.
type Holding struct {
	Instrument string    `json:"instrument"`
	Qty        int64     `json:"qty"`
	EntryPrice int64     `json:"entry_price"`
	PeakPrice  int64     `json:"peak_price"`
	Strategy   string    `json:"strategy"`
	OpenedAt   time.Time `json:"opened_at"`
}

// ExitReason names the rule that closed a position.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitDeadCross    ExitReason = "dead_cross"
)

// Entry rejection reasons.
const (
	RejectBanned       = "banned"
	RejectAlreadyHeld  = "already_held"
	RejectMaxHoldings  = "max_holdings"
	RejectNoPrice      = "no_price"
	RejectInsufficient = "insufficient_capital"
	RejectNoQuantity   = "no_quantity"
	RejectOrder        = "order_rejected"
)

// EntryResult describes the outcome of TryEnter.
type EntryResult struct {
	Instrument string `json:"instrument"`
	Entered    bool   `json:"entered"`
	Qty        int64  `json:"qty"`
	Price      int64  `json:"price"`
	Tranches   int    `json:"tranches"`
	Reason     string `json:"reason,omitempty"` // set when not entered
}

// ExitResult describes the outcome of TryExit.
type ExitResult struct {
	Instrument string     `json:"instrument"`
	Exited     bool       `json:"exited"`
	Reason     ExitReason `json:"reason,omitempty"`
	Qty        int64      `json:"qty"`
	Price      int64      `json:"price"`
	ProfitRate float64    `json:"profit_rate"`
}

// OrderSubmitter sends orders to the broker and returns the ack code.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req broker.OrderRequest) (int, error)
}

// PriceSource returns the current price of an instrument.
type PriceSource interface {
	CurrentPrice(ctx context.Context, instrument string) (int64, error)
}

// Recorder appends executed fills to the trade ledger.
type Recorder interface {
	Record(ctx context.Context, rec ledger.TradeRecord) (ledger.TradeRecord, error)
}

// HoldingStore persists open positions across restarts.
type HoldingStore interface {
	Save(ctx context.Context, h Holding) error
	Remove(ctx context.Context, instrument string) error
}
