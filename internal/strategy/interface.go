package strategy

import "trader_go/internal/domain"

// Strategy is the contract for all signal generators. It is called
// synchronously by the engines, once per tick, with an immutable snapshot.
// Implementations are deterministic functions of the snapshot and their own
// prior history; they must never mutate engine state.
type Strategy interface {
	// GenerateSignals returns zero or more signals for the snapshot.
	// HOLD signals are permitted and ignored by the caller.
	GenerateSignals(snapshot *domain.MarketSnapshot) []domain.Signal

	// Name identifies the strategy in logs and results.
	Name() string
}
