package strategy

import (
	"fmt"

	"autotrade-core/internal/indicators"
)

// Breakout buys when the latest close is above the short EMA. It never sells.
type Breakout struct{}

func (Breakout) Name() string { return "ema_breakout" }

func (b Breakout) Classify(instrument string, set *indicators.Set) Signal {
	sig := Signal{Strategy: b.Name(), Action: ActionNone, Instrument: instrument}
	if set.Len() == 0 {
		return sig
	}
	closePrice, ema, _, _ := set.Last()
	if closePrice > ema {
		sig.Action = ActionBuy
		sig.Note = fmt.Sprintf("Close %.0f above short EMA %.2f", closePrice, ema)
	}
	return sig
}
