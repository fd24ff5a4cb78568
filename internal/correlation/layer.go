// Package correlation matches asynchronous broker responses to the
// requests that caused them.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"autotrade-core/internal/monitor"
	"autotrade-core/pkg/logging"
)

var (
	// ErrTimeout is returned when no response arrives within the deadline.
	ErrTimeout = errors.New("correlated request timed out")
	// ErrShutdown is returned for requests drained by Shutdown.
	ErrShutdown = errors.New("correlation layer shut down")
	// ErrTokensExhausted means every token of a kind is in flight.
	ErrTokensExhausted = errors.New("no free correlation token")
)

// Kind partitions the token space by request type.
type Kind string

const (
	KindChart   Kind = "chart"
	KindBalance Kind = "balance"
)

// tokenBlock is the first token of each kind; a kind owns blockSize tokens.
var tokenBlock = map[Kind]int{
	KindChart:   2001,
	KindBalance: 3001,
}

const blockSize = 999

// SendFunc hands a request carrying token to the broker.
type SendFunc func(ctx context.Context, token string) error

// Outcome is reported to the optional observer after each request completes.
type Outcome struct {
	Token   string
	Kind    Kind
	Subject string
	Result  string // resolved, timeout, shutdown, send_error, cancelled
	Latency time.Duration
}

// PendingRequest describes an in-flight request.
type PendingRequest struct {
	Token    string    `json:"token"`
	Kind     Kind      `json:"kind"`
	Subject  string    `json:"subject"`
	IssuedAt time.Time `json:"issued_at"`
}

type pending struct {
	PendingRequest
	reply chan any
}

// Layer owns the pending-request table.
type Layer struct {
	mu       sync.Mutex
	pending  map[string]*pending
	next     map[Kind]int
	closed   bool
	shutdown chan struct{}

	timeout  time.Duration
	limiter  *rate.Limiter
	metrics  *monitor.SystemMetrics
	observer func(Outcome)
	log      *zap.Logger
}

// Options configure a Layer.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables pacing
	Metrics           *monitor.SystemMetrics
	Observer          func(Outcome)
	Logger            *zap.Logger
}

// New builds a correlation layer.
func New(opts Options) *Layer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Layer{
		pending:  make(map[string]*pending),
		next:     make(map[Kind]int),
		shutdown: make(chan struct{}),
		timeout:  timeout,
		limiter:  limiter,
		metrics:  opts.Metrics,
		observer: opts.Observer,
		log:      logging.OrNop(opts.Logger).Named("correlation"),
	}
}

// Issue allocates a token, registers the request, sends it and waits for
// Resolve, the timeout, ctx cancellation or Shutdown, whichever comes first.
// The pending entry is always removed before Issue returns.
func (l *Layer) Issue(ctx context.Context, kind Kind, subject string, send SendFunc) (any, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pace %s request: %w", kind, err)
		}
	}

	p, err := l.register(kind, subject)
	if err != nil {
		return nil, err
	}
	defer l.remove(p)

	start := time.Now()
	if err := send(ctx, p.Token); err != nil {
		l.report(p, "send_error", start)
		return nil, fmt.Errorf("send %s request %s for %s: %w", kind, p.Token, subject, err)
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case payload := <-p.reply:
		l.report(p, "resolved", start)
		if l.metrics != nil {
			l.metrics.RequestLatency.RecordDuration(time.Since(start))
		}
		return payload, nil
	case <-timer.C:
		l.report(p, "timeout", start)
		if l.metrics != nil {
			l.metrics.IncrementTimeouts()
		}
		l.log.Warn("request timed out",
			zap.String("token", p.Token), zap.String("kind", string(kind)),
			zap.String("subject", subject), zap.Duration("timeout", l.timeout))
		return nil, fmt.Errorf("%w: %s request %s for %s", ErrTimeout, kind, p.Token, subject)
	case <-ctx.Done():
		l.report(p, "cancelled", start)
		return nil, ctx.Err()
	case <-l.shutdown:
		l.report(p, "shutdown", start)
		return nil, ErrShutdown
	}
}

// Resolve delivers payload to the request waiting on token. Unknown tokens
// (late responses after a timeout, or stray screens) are logged and ignored.
func (l *Layer) Resolve(token string, payload any) bool {
	l.mu.Lock()
	p, ok := l.pending[token]
	if ok {
		delete(l.pending, token)
	}
	l.mu.Unlock()

	if !ok {
		l.log.Warn("response for unknown token ignored", zap.String("token", token))
		return false
	}
	p.reply <- payload
	return true
}

// Pending returns a snapshot of in-flight requests.
func (l *Layer) Pending() []PendingRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PendingRequest, 0, len(l.pending))
	for _, p := range l.pending {
		out = append(out, p.PendingRequest)
	}
	return out
}

// Shutdown fails every pending request with ErrShutdown and rejects new ones.
func (l *Layer) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.shutdown)
	if n := len(l.pending); n > 0 {
		l.log.Info("draining pending requests", zap.Int("count", n))
	}
	l.pending = make(map[string]*pending)
}

func (l *Layer) register(kind Kind, subject string) (*pending, error) {
	base, ok := tokenBlock[kind]
	if !ok {
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrShutdown
	}

	for i := 0; i < blockSize; i++ {
		offset := l.next[kind]
		l.next[kind] = (offset + 1) % blockSize
		token := strconv.Itoa(base + offset)
		if _, busy := l.pending[token]; busy {
			continue
		}
		p := &pending{
			PendingRequest: PendingRequest{Token: token, Kind: kind, Subject: subject, IssuedAt: time.Now()},
			reply:          make(chan any, 1),
		}
		l.pending[token] = p
		return p, nil
	}
	return nil, fmt.Errorf("%w: kind %s", ErrTokensExhausted, kind)
}

func (l *Layer) remove(p *pending) {
	l.mu.Lock()
	if l.pending[p.Token] == p {
		delete(l.pending, p.Token)
	}
	l.mu.Unlock()
}

func (l *Layer) report(p *pending, result string, start time.Time) {
	if l.observer == nil {
		return
	}
	l.observer(Outcome{
		Token:   p.Token,
		Kind:    p.Kind,
		Subject: p.Subject,
		Result:  result,
		Latency: time.Since(start),
	})
}
