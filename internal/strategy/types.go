package strategy

import (
	"errors"

	"autotrade-core/internal/indicators"
)

// Action is the outcome of classifying an instrument.
type Action string

const (
	ActionNone Action = "NONE"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ErrNoIndicators means the instrument has no usable indicator set.
var ErrNoIndicators = errors.New("no indicator data for instrument")

// Signal is a decision emitted by a strategy.
type Signal struct {
	Strategy   string
	Action     Action
	Instrument string
	Note       string
}

// Strategy classifies an indicator set into a signal.
type Strategy interface {
	Name() string
	Classify(instrument string, set *indicators.Set) Signal
}

// Availability records which data acquisitions succeeded for the session.
type Availability struct {
	ChartOK    bool
	RealtimeOK bool
}

// Select picks the cross strategy only when both acquisitions succeeded.
func Select(av Availability) Strategy {
	if av.ChartOK && av.RealtimeOK {
		return Cross{}
	}
	return Breakout{}
}

// Classify selects the strategy for av and applies it. A nil set yields
// ActionNone together with ErrNoIndicators so the caller can log the gap.
func Classify(instrument string, set *indicators.Set, av Availability) (Signal, error) {
	s := Select(av)
	if set == nil || set.Len() == 0 {
		return Signal{Strategy: s.Name(), Action: ActionNone, Instrument: instrument}, ErrNoIndicators
	}
	return s.Classify(instrument, set), nil
}
