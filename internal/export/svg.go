package export

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"os"
	"time"

	"autotrade-core/internal/ledger"
)

const (
	graphW  = 900
	graphH  = 420
	padL    = 60
	padR    = 30
	padT    = 40
	padB    = 50
	plotW   = graphW - padL - padR
	plotH   = graphH - padT - padB
	yMargin = 1.0 // percent added above and below the data range
)

// WriteProfitGraph plots the daily realized return rate with dashed lines at
// the take-profit target and the stop-loss threshold. It returns ErrNoSells
// and writes nothing when points is empty.
func WriteProfitGraph(dir string, day time.Time, points []ledger.DailyProfit, target, maxLoss float64) (string, error) {
	if len(points) == 0 {
		return "", ErrNoSells
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := ProfitGraphPath(dir, day)
	if err := os.WriteFile(path, RenderProfitGraph(points, target, maxLoss), 0o644); err != nil {
		return "", fmt.Errorf("write profit graph: %w", err)
	}
	return path, nil
}

// RenderProfitGraph returns the SVG document for points.
func RenderProfitGraph(points []ledger.DailyProfit, target, maxLoss float64) []byte {
	lo, hi := math.Min(target, maxLoss), math.Max(target, maxLoss)
	rates := make([]float64, len(points))
	for i, p := range points {
		rates[i] = p.ReturnRate.InexactFloat64()
		lo = math.Min(lo, rates[i])
		hi = math.Max(hi, rates[i])
	}
	lo -= yMargin
	hi += yMargin

	yOf := func(v float64) float64 { return padT + (hi-v)/(hi-lo)*plotH }
	xOf := func(i int) float64 {
		if len(points) == 1 {
			return padL + plotW/2
		}
		return padL + float64(i)*plotW/float64(len(points)-1)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, graphW, graphH, graphW, graphH)
	b.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/>`)
	fmt.Fprintf(&b, `<text x="%d" y="24" font-family="sans-serif" font-size="16">Daily return rate (%%)</text>`, padL)

	// axes
	fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#444"/>`, padL, padT, padL, padT+plotH)
	fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#444"/>`, padL, padT+plotH, padL+plotW, padT+plotH)

	refLine(&b, "target", yOf(target), target, "#2e7d32")
	refLine(&b, "stop-loss", yOf(maxLoss), maxLoss, "#c62828")

	b.WriteString(`<polyline class="profit" fill="none" stroke="#1565c0" stroke-width="2" points="`)
	for i, r := range rates {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.2f,%.2f", xOf(i), yOf(r))
	}
	b.WriteString(`"/>`)

	for i, p := range points {
		x, y := xOf(i), yOf(rates[i])
		fmt.Fprintf(&b, `<circle cx="%.2f" cy="%.2f" r="4" fill="#1565c0"><title>%s %.2f%%</title></circle>`, x, y, html.EscapeString(p.Day), rates[i])
		fmt.Fprintf(&b, `<text x="%.2f" y="%d" font-family="sans-serif" font-size="11" text-anchor="middle">%s</text>`, x, padT+plotH+18, html.EscapeString(p.Day))
	}
	b.WriteString(`</svg>`)
	return b.Bytes()
}

func refLine(b *bytes.Buffer, class string, y, value float64, color string) {
	fmt.Fprintf(b, `<line class="%s" x1="%d" y1="%.2f" x2="%d" y2="%.2f" stroke="%s" stroke-dasharray="6,4"/>`,
		class, padL, y, padL+plotW, y, color)
	fmt.Fprintf(b, `<text x="%d" y="%.2f" font-family="sans-serif" font-size="11" fill="%s">%s %.1f%%</text>`,
		padL+plotW-90, y-4, color, class, value)
}
