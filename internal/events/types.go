package events

import "time"

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventStrategySignal Event = "strategy_signal"
	EventRiskAlert      Event = "risk_alert"
	EventPositionChange Event = "position_change"
	EventTradeRecorded  Event = "trade_recorded"
	EventExecution      Event = "execution"
	EventBalance        Event = "balance"
	EventOrderRejected  Event = "order.rejected"
)

// Topics lists every event the status stream relays.
var Topics = []Event{
	EventPriceTick, EventStrategySignal, EventRiskAlert, EventPositionChange,
	EventTradeRecorded, EventExecution, EventBalance, EventOrderRejected,
}

// PriceTick is published for every parsed realtime price.
type PriceTick struct {
	Instrument string    `json:"instrument"`
	Price      int64     `json:"price"`
	At         time.Time `json:"at"`
}

// PositionChange is published when a position opens or closes.
type PositionChange struct {
	Instrument string `json:"instrument"`
	Opened     bool   `json:"opened"`
	Qty        int64  `json:"qty"`
	Price      int64  `json:"price"`
	Reason     string `json:"reason,omitempty"`
}

// RiskAlert carries exit and ban notices.
type RiskAlert struct {
	Kind       string `json:"kind"` // take_profit, stop_loss, trailing_stop, dead_cross, banned
	Instrument string `json:"instrument"`
	Message    string `json:"message"`
}

// BalanceUpdate is published after each capital refresh.
type BalanceUpdate struct {
	Amount    int64 `json:"amount"`
	Malformed bool  `json:"malformed"`
}
