// Package state persists open positions so a restarted session resumes
// managing them.
package state

import (
	"context"
	"errors"
	"fmt"

	"autotrade-core/internal/risk"
	"autotrade-core/pkg/db"
)

// Store maps risk holdings onto the holdings table.
type Store struct {
	db *db.Database
}

func NewStore(database *db.Database) *Store {
	return &Store{db: database}
}

// Load returns the holdings persisted by a previous session.
func (s *Store) Load(ctx context.Context) ([]risk.Holding, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.ListHoldings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	out := make([]risk.Holding, 0, len(rows))
	for _, r := range rows {
		out = append(out, risk.Holding{
			Instrument: r.Instrument,
			Qty:        r.Qty,
			EntryPrice: r.EntryPrice,
			PeakPrice:  r.PeakPrice,
			Strategy:   r.Strategy,
			OpenedAt:   r.OpenedAt,
		})
	}
	return out, nil
}

// Save upserts h.
func (s *Store) Save(ctx context.Context, h risk.Holding) error {
	if s.db == nil {
		return nil
	}
	return s.db.UpsertHolding(ctx, db.Holding{
		Instrument: h.Instrument,
		Qty:        h.Qty,
		EntryPrice: h.EntryPrice,
		PeakPrice:  h.PeakPrice,
		Strategy:   h.Strategy,
		OpenedAt:   h.OpenedAt,
	})
}

// Remove deletes the row of a closed position. A missing row is not an error.
func (s *Store) Remove(ctx context.Context, instrument string) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.DeleteHolding(ctx, instrument); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return nil
}
