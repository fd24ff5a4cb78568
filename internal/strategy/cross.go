package strategy

import (
	"fmt"

	"autotrade-core/internal/indicators"
)

// Cross emits BUY on a MACD golden cross and SELL on a dead cross.
// Both comparisons are strict; touching lines do not count as a cross.
type Cross struct{}

func (Cross) Name() string { return "macd_cross" }

func (c Cross) Classify(instrument string, set *indicators.Set) Signal {
	sig := Signal{Strategy: c.Name(), Action: ActionNone, Instrument: instrument}
	n := set.Len()
	if n < 2 {
		return sig
	}

	macdPrev, macdNow := set.MACD[n-2], set.MACD[n-1]
	sigPrev, sigNow := set.Signal[n-2], set.Signal[n-1]

	switch {
	case macdPrev < sigPrev && macdNow > sigNow:
		sig.Action = ActionBuy
		sig.Note = fmt.Sprintf("Golden cross: MACD(%.2f) > signal(%.2f)", macdNow, sigNow)
	case macdPrev > sigPrev && macdNow < sigNow:
		sig.Action = ActionSell
		sig.Note = fmt.Sprintf("Dead cross: MACD(%.2f) < signal(%.2f)", macdNow, sigNow)
	}
	return sig
}
