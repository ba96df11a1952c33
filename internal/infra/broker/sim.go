package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trader_go/internal/domain"
)

// SimBroker is the paper broker: it acknowledges synchronously and fills at
// the last seen price for the symbol, pushing the fill through the same
// asynchronous callback path a real broker would use.
type SimBroker struct {
	mu     sync.Mutex
	prices map[string]float64
	seq    int
	onFill func(FillNotification)

	working map[string]*domain.Order // exchange id -> order
}

// NewSimBroker creates a paper broker. onFill receives every simulated fill;
// the live engine wires it to its inbox.
func NewSimBroker(onFill func(FillNotification)) *SimBroker {
	return &SimBroker{
		prices:  make(map[string]float64),
		onFill:  onFill,
		working: make(map[string]*domain.Order),
	}
}

// UpdatePrice feeds the broker the latest market price for a symbol.
func (b *SimBroker) UpdatePrice(symbol string, price float64) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

// Submit acknowledges the order and schedules an immediate full fill at the
// last seen price. No price for the symbol means rejection.
func (b *SimBroker) Submit(ctx context.Context, order *domain.Order) (OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return OrderAck{}, domain.ErrSubmitTimeout
	}

	b.mu.Lock()
	price, ok := b.prices[order.Symbol]
	b.seq++
	exchangeID := fmt.Sprintf("sim-%d", b.seq)
	b.mu.Unlock()

	if !ok {
		return OrderAck{ExchangeID: exchangeID, Status: domain.OrderStateRejected},
			fmt.Errorf("%w: %s", domain.ErrNoMarketData, order.Symbol)
	}

	b.mu.Lock()
	b.working[exchangeID] = order
	b.mu.Unlock()

	// Fill callback fires outside the lock, as a real broker stream would.
	notify := FillNotification{
		ClientOrderID: order.ID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		FilledQty:     order.Qty,
		FillPrice:     price,
		Timestamp:     time.Now().UTC(),
		Terminal:      true,
	}
	if b.onFill != nil {
		go b.onFill(notify)
	}

	slog.Debug("sim broker accepted order",
		slog.String("client_id", order.ID),
		slog.String("exchange_id", exchangeID))
	return OrderAck{ExchangeID: exchangeID, Status: domain.OrderStateAcked}, nil
}

// Cancel drops a working order.
func (b *SimBroker) Cancel(_ context.Context, exchangeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.working[exchangeID]; !ok {
		return fmt.Errorf("order not found: %s", exchangeID)
	}
	delete(b.working, exchangeID)
	return nil
}

// Positions reports nothing: the paper broker trusts the local ledger.
func (b *SimBroker) Positions(_ context.Context) ([]BrokerPosition, error) {
	return nil, nil
}

var _ Broker = (*SimBroker)(nil)
