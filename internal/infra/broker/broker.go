// Package broker defines the order-routing boundary for the live engine and
// provides the simulated (paper) implementation used in dry runs. Fill
// notifications always come back asynchronously through the engine inbox,
// so the live path is identical whether the broker is real or simulated.
package broker

import (
	"context"
	"time"

	"trader_go/internal/domain"
)

// OrderAck is the broker's response to a submission.
type OrderAck struct {
	ExchangeID string
	Status     domain.OrderState
}

// BrokerPosition is one holding reported by the broker.
type BrokerPosition struct {
	Symbol   string
	Qty      int64
	AvgPrice float64
}

// Broker is the external order-routing interface consumed by the live
// engine. Submissions carry a context deadline; on timeout the engine marks
// the order locally REJECTED and never credits it to the ledger.
type Broker interface {
	// Submit routes an order. The ack is synchronous; fills arrive later
	// via the fill stream.
	Submit(ctx context.Context, order *domain.Order) (OrderAck, error)

	// Cancel cancels a working order by exchange id.
	Cancel(ctx context.Context, exchangeID string) error

	// Positions lists broker-side holdings (used to sync on startup).
	Positions(ctx context.Context) ([]BrokerPosition, error)
}

// FillNotification is one asynchronous fill callback payload.
type FillNotification struct {
	ClientOrderID string
	Symbol        string
	Side          domain.Side
	FilledQty     int64
	FillPrice     float64
	Timestamp     time.Time
	Terminal      bool
}
