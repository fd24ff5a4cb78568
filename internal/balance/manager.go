package balance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logging"
)

var (
	// ErrMalformedAmount marks a balance payload that is not a number.
	ErrMalformedAmount = errors.New("malformed balance amount")
	// ErrInsufficientCapital is returned when a deduction exceeds the available amount.
	ErrInsufficientCapital = errors.New("insufficient capital")
	// ErrSuperseded is returned by Sync when a deduction landed while the
	// broker figure was in flight; the local amount is kept.
	ErrSuperseded = errors.New("balance refresh superseded by a deduction")
)

// Fetcher retrieves the raw withdrawable cash string from the broker.
type Fetcher interface {
	FetchBalance(ctx context.Context) (string, error)
}

// SnapshotStore persists balance refreshes.
type SnapshotStore interface {
	InsertBalanceSnapshot(ctx context.Context, s db.BalanceSnapshot) error
}

// Manager tracks the session's available capital in whole currency units.
type Manager struct {
	fetcher      Fetcher
	store        SnapshotStore
	account      string
	syncInterval time.Duration
	log          *zap.Logger
	onUpdate     func(amount int64, malformed bool)

	mu        sync.RWMutex
	available int64
	lastSync  time.Time
	deducted  uint64 // bumped by every Deduct
}

// Options configure a Manager; all fields are optional.
type Options struct {
	Fetcher      Fetcher
	Store        SnapshotStore
	Account      string
	SyncInterval time.Duration
	Logger       *zap.Logger
	OnUpdate     func(amount int64, malformed bool)
}

// NewManager creates a new capital manager.
func NewManager(opts Options) *Manager {
	interval := opts.SyncInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Manager{
		fetcher:      opts.Fetcher,
		store:        opts.Store,
		account:      opts.Account,
		syncInterval: interval,
		log:          logging.OrNop(opts.Logger).Named("balance"),
		onUpdate:     opts.OnUpdate,
	}
}

// Interval is how often the owner should call Sync.
func (m *Manager) Interval() time.Duration { return m.syncInterval }

// Sync fetches the withdrawable cash and replaces the available amount.
// A malformed payload sets capital to 0 and is logged as a data-quality
// event. If Deduct ran while the request was in flight the broker figure
// may predate that purchase, so it is dropped and ErrSuperseded returned.
func (m *Manager) Sync(ctx context.Context) error {
	if m.fetcher == nil {
		return nil
	}
	m.mu.RLock()
	gen := m.deducted
	m.mu.RUnlock()

	raw, err := m.fetcher.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	if _, ok := m.apply(ctx, raw, &gen); !ok {
		m.log.Warn("balance refresh dropped, capital changed meanwhile",
			zap.String("raw", raw), zap.Int64("available", m.Available()))
		return ErrSuperseded
	}
	return nil
}

// Apply parses raw and stores the result as available capital.
func (m *Manager) Apply(ctx context.Context, raw string) int64 {
	amount, _ := m.apply(ctx, raw, nil)
	return amount
}

// apply stores raw unless gen is set and a Deduct has happened since.
func (m *Manager) apply(ctx context.Context, raw string, gen *uint64) (int64, bool) {
	amount, err := ParseCash(raw)
	malformed := err != nil

	m.mu.Lock()
	account := m.account
	if gen != nil && *gen != m.deducted {
		m.mu.Unlock()
		return amount, false
	}
	m.setLocked(amount)
	m.mu.Unlock()

	if malformed {
		m.log.Warn("balance payload malformed, capital set to 0",
			zap.String("account", account), zap.String("raw", raw), zap.Error(err))
	}
	if m.store != nil {
		snap := db.BalanceSnapshot{Account: account, Raw: raw, Amount: amount, Malformed: malformed}
		if err := m.store.InsertBalanceSnapshot(ctx, snap); err != nil {
			m.log.Warn("persist balance snapshot", zap.Error(err))
		}
	}
	if m.onUpdate != nil {
		m.onUpdate(amount, malformed)
	}
	m.log.Info("💰 Balance synced", zap.String("account", account), zap.Int64("available", amount))
	return amount, true
}

// SetAccount labels later snapshots and log lines with account.
func (m *Manager) SetAccount(account string) {
	m.mu.Lock()
	m.account = account
	m.mu.Unlock()
}

// Set replaces the available amount.
func (m *Manager) Set(amount int64) {
	m.mu.Lock()
	m.setLocked(amount)
	m.mu.Unlock()
}

func (m *Manager) setLocked(amount int64) {
	if amount < 0 {
		amount = 0
	}
	m.available = amount
	m.lastSync = time.Now()
}

// Available returns the current available capital.
func (m *Manager) Available() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

// LastSync returns when capital was last replaced.
func (m *Manager) LastSync() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// Deduct removes amount; capital never goes negative.
func (m *Manager) Deduct(amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount < 0 {
		return fmt.Errorf("deduct negative amount %d", amount)
	}
	if amount > m.available {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientCapital, amount, m.available)
	}
	m.available -= amount
	m.deducted++
	return nil
}

// Add credits amount, e.g. when a refresh is not available after a sell.
func (m *Manager) Add(amount int64) {
	if amount <= 0 {
		return
	}
	m.mu.Lock()
	m.available += amount
	m.mu.Unlock()
}

// ParseCash converts the broker's zero-padded cash string. The sign is
// dropped; anything that is not digits yields 0 and ErrMalformedAmount.
func ParseCash(raw string) (int64, error) {
	s := strings.TrimLeft(strings.TrimSpace(raw), "+-")
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	return v, nil
}
