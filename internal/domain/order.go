package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Multiplier returns the signed factor used in cash and position
// arithmetic: +1 for buys, -1 for sells.
func (s Side) Multiplier() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType enumerates supported order types.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// TimeInForce is the lifetime policy for an unfilled order.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderState is the order lifecycle state.
//
// Legal transitions:
//
//	NEW -> ACKED | REJECTED
//	ACKED -> PARTIALLY_FILLED | FILLED | CANCELED
//	PARTIALLY_FILLED -> PARTIALLY_FILLED | FILLED | CANCELED
//
// FILLED, REJECTED and CANCELED are terminal; a terminal order is immutable.
type OrderState string

const (
	OrderStateNew             OrderState = "NEW"
	OrderStateAcked           OrderState = "ACKED"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCanceled        OrderState = "CANCELED"
	OrderStateRejected        OrderState = "REJECTED"
)

// IsTerminal reports whether the state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateRejected, OrderStateCanceled:
		return true
	default:
		return false
	}
}

// Order is a single client order with partial-fill accounting.
// Prices are float64 dollars; quantities are whole shares.
type Order struct {
	ID           string
	Symbol       string
	Side         Side
	Type         OrderType
	Qty          int64
	LimitPrice   float64 // 0 unless LIMIT / STOP_LIMIT
	StopPrice    float64 // 0 unless STOP / STOP_LIMIT
	TIF          TimeInForce
	CreatedAt    time.Time
	FilledQty    int64
	AvgFillPrice float64 // valid iff FilledQty > 0
	State        OrderState
	RejectReason string

	stopArmed bool
}

// NewOrder constructs an order in state NEW with a fresh random client id.
// Reproducible paths (the backtest) use NewOrderWithID instead.
func NewOrder(symbol string, side Side, typ OrderType, qty int64, tif TimeInForce, ts time.Time) (*Order, error) {
	return NewOrderWithID(uuid.NewString(), symbol, side, typ, qty, tif, ts)
}

// NewOrderWithID constructs an order with a caller-assigned client id.
func NewOrderWithID(id, symbol string, side Side, typ OrderType, qty int64, tif TimeInForce, ts time.Time) (*Order, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: qty must be positive, got %d", ErrInvalidOrder, qty)
	}
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	return &Order{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Qty:       qty,
		TIF:       tif,
		CreatedAt: ts,
		State:     OrderStateNew,
	}, nil
}

// NewMarketOrder is shorthand for the common market-order case.
func NewMarketOrder(symbol string, side Side, qty int64, tif TimeInForce, ts time.Time) (*Order, error) {
	return NewOrder(symbol, side, OrderTypeMarket, qty, tif, ts)
}

// Remaining returns the unfilled quantity. Never negative.
func (o *Order) Remaining() int64 {
	return o.Qty - o.FilledQty
}

// IsWorking reports whether the order can still receive fills.
func (o *Order) IsWorking() bool {
	return o.State == OrderStateAcked || o.State == OrderStatePartiallyFilled
}

// Acknowledge moves NEW -> ACKED.
func (o *Order) Acknowledge() error {
	if o.State != OrderStateNew {
		return o.transitionError(OrderStateAcked)
	}
	o.State = OrderStateAcked
	return nil
}

// Reject moves NEW -> REJECTED and records the reason.
func (o *Order) Reject(reason string) error {
	if o.State != OrderStateNew {
		return o.transitionError(OrderStateRejected)
	}
	o.State = OrderStateRejected
	o.RejectReason = reason
	return nil
}

// Cancel moves ACKED or PARTIALLY_FILLED -> CANCELED.
func (o *Order) Cancel() error {
	if !o.IsWorking() {
		return o.transitionError(OrderStateCanceled)
	}
	o.State = OrderStateCanceled
	return nil
}

// Fill applies a (possibly partial) fill of qty at price. The average fill
// price is maintained as a size-weighted running mean. Filling more than
// Remaining fails with ErrOverfill; filling a non-working order fails with
// ErrInvalidTransition.
func (o *Order) Fill(qty int64, price float64) error {
	if !o.IsWorking() {
		return fmt.Errorf("%w: cannot fill order %s in state %s", ErrInvalidTransition, o.ID, o.State)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: fill qty must be positive, got %d", ErrInvalidOrder, qty)
	}
	if qty > o.Remaining() {
		return fmt.Errorf("%w: order %s fill %d exceeds remaining %d", ErrOverfill, o.ID, qty, o.Remaining())
	}

	total := o.AvgFillPrice*float64(o.FilledQty) + price*float64(qty)
	o.FilledQty += qty
	o.AvgFillPrice = total / float64(o.FilledQty)

	if o.Remaining() == 0 {
		o.State = OrderStateFilled
	} else {
		o.State = OrderStatePartiallyFilled
	}
	return nil
}

// ArmStop marks a STOP / STOP_LIMIT order as triggered. Once armed the order
// matches as a market (or limit) order on subsequent bars.
func (o *Order) ArmStop() { o.stopArmed = true }

// StopArmed reports whether the stop trigger has been crossed.
func (o *Order) StopArmed() bool { return o.stopArmed }

func (o *Order) transitionError(to OrderState) error {
	return fmt.Errorf("%w: order %s %s -> %s", ErrInvalidTransition, o.ID, o.State, to)
}

func (o *Order) String() string {
	return fmt.Sprintf("Order(%s %s %s qty=%d filled=%d state=%s)",
		o.ID, o.Side, o.Symbol, o.Qty, o.FilledQty, o.State)
}
