// Package event defines the messages flowing through the live engine's
// single ordered inbox. Feed workers and broker callbacks only ever enqueue;
// the engine actor is the sole consumer and the sole owner of shared state.
package event

import (
	"time"

	"trader_go/internal/domain"
)

// Kind discriminates inbox messages.
type Kind int

const (
	KindTick Kind = iota + 1
	KindBrokerFill
	KindResetBreaker
	KindFlushHealth
)

// Event is one inbox message.
type Event interface {
	GetKind() Kind
}

// TickEvent carries one market data observation.
type TickEvent struct {
	Tick domain.Tick
}

func (e *TickEvent) GetKind() Kind { return KindTick }

// BrokerFillEvent carries an asynchronous fill notification from the broker.
type BrokerFillEvent struct {
	ClientOrderID string
	Symbol        string
	Side          domain.Side
	FilledQty     int64
	FillPrice     float64
	Timestamp     time.Time
	Terminal      bool // true when the broker reports the order done
}

func (e *BrokerFillEvent) GetKind() Kind { return KindBrokerFill }

// ResetBreakerEvent asks the engine to clear the circuit breaker.
type ResetBreakerEvent struct{}

func (e *ResetBreakerEvent) GetKind() Kind { return KindResetBreaker }

// FlushHealthEvent asks the engine to persist a health snapshot now.
type FlushHealthEvent struct{}

func (e *FlushHealthEvent) GetKind() Kind { return KindFlushHealth }
