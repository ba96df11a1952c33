// Package feed supplies market data to the engines: historical bars from
// the cache for backtests, and a push-driven WebSocket tick stream for live
// runs. Workers never touch engine state; they only enqueue events.
package feed

import (
	"context"
	"time"

	"trader_go/internal/domain"
	"trader_go/internal/infra/storage"
)

// BarSource streams historical bars in non-decreasing timestamp order per
// symbol. The engines never assume bars are clock-aligned across symbols.
type BarSource interface {
	Bars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]*domain.Bar, error)
}

// StoreSource serves bars out of the SQLite cache.
type StoreSource struct {
	store *storage.BarStore
}

// NewStoreSource wraps a bar store as a BarSource.
func NewStoreSource(store *storage.BarStore) *StoreSource {
	return &StoreSource{store: store}
}

// Bars range-scans the cache. The store returns timestamp-ascending order.
func (s *StoreSource) Bars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]*domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.GetBars(symbol, tf, start, end)
}

// SliceSource serves an in-memory bar slice; used by tests and replays.
type SliceSource struct {
	bars map[string][]*domain.Bar
}

// NewSliceSource builds a source from pre-loaded bars keyed by symbol.
func NewSliceSource(bars map[string][]*domain.Bar) *SliceSource {
	return &SliceSource{bars: bars}
}

// Bars filters the symbol's slice to [start, end].
func (s *SliceSource) Bars(_ context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]*domain.Bar, error) {
	var out []*domain.Bar
	for _, b := range s.bars[symbol] {
		if b.Timeframe != tf {
			continue
		}
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
