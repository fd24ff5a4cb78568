package indicators

import (
	"errors"
	"fmt"
)

// ErrInsufficientHistory means the price series is shorter than the minimum.
var ErrInsufficientHistory = errors.New("insufficient price history")

// DefaultMinHistory is the minimum number of daily closes needed per instrument.
const DefaultMinHistory = 50

// Spans configures the EMA windows.
type Spans struct {
	Short  int // price-vs-EMA breakout
	Fast   int
	Slow   int
	Signal int // EMA of MACD
}

// DefaultSpans are 5 / 12 / 26 / 9.
func DefaultSpans() Spans {
	return Spans{Short: 5, Fast: 12, Slow: 26, Signal: 9}
}

// Set holds the indicator series for one instrument, oldest first.
// All slices have the same length as Closes.
type Set struct {
	Closes   []float64
	EMAShort []float64
	MACD     []float64
	Signal   []float64
}

// Len is the number of points in the set.
func (s *Set) Len() int { return len(s.Closes) }

// Last returns the most recent close, EMA-short, MACD and signal values.
func (s *Set) Last() (closePrice, emaShort, macd, signal float64) {
	i := len(s.Closes) - 1
	return s.Closes[i], s.EMAShort[i], s.MACD[i], s.Signal[i]
}

// Compute derives the indicator set from closes ordered oldest first.
func Compute(closes []int64, minLen int, spans Spans) (*Set, error) {
	if minLen <= 0 {
		minLen = DefaultMinHistory
	}
	if len(closes) < minLen {
		return nil, fmt.Errorf("%w: have %d closes, need %d", ErrInsufficientHistory, len(closes), minLen)
	}

	prices := make([]float64, len(closes))
	for i, c := range closes {
		prices[i] = float64(c)
	}

	fast := EMA(prices, spans.Fast)
	slow := EMA(prices, spans.Slow)
	macd := make([]float64, len(prices))
	for i := range prices {
		macd[i] = fast[i] - slow[i]
	}

	return &Set{
		Closes:   prices,
		EMAShort: EMA(prices, spans.Short),
		MACD:     macd,
		Signal:   EMA(macd, spans.Signal),
	}, nil
}

// OldestFirst returns a reversed copy of a newest-first feed.
func OldestFirst(newestFirst []int64) []int64 {
	out := make([]int64, len(newestFirst))
	for i, v := range newestFirst {
		out[len(out)-1-i] = v
	}
	return out
}
