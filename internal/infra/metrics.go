package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksProcessed  atomic.Uint64
	signalsEmitted  atomic.Uint64
	ordersSubmitted atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersRejected  atomic.Uint64
	stopExits       atomic.Uint64
	errorsTotal     atomic.Uint64

	// Gauges
	circuitOpen atomic.Int32 // 1 = open, 0 = closed
}

// RecordTick records one processed market tick.
func (m *Metrics) RecordTick() {
	m.ticksProcessed.Add(1)
}

// RecordSignal records an actionable strategy signal.
func (m *Metrics) RecordSignal() {
	m.signalsEmitted.Add(1)
}

// RecordOrderSubmitted records an order entering matching.
func (m *Metrics) RecordOrderSubmitted() {
	m.ordersSubmitted.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderRejected records a validation or matching rejection.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordStopExit records a risk-driven exit.
func (m *Metrics) RecordStopExit() {
	m.stopExits.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetCircuitState sets the circuit breaker gauge (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	if open {
		m.circuitOpen.Store(1)
	} else {
		m.circuitOpen.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksProcessed  uint64
	SignalsEmitted  uint64
	OrdersSubmitted uint64
	OrdersFilled    uint64
	OrdersRejected  uint64
	StopExits       uint64
	ErrorsTotal     uint64
	CircuitOpen     bool
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TicksProcessed:  m.ticksProcessed.Load(),
		SignalsEmitted:  m.signalsEmitted.Load(),
		OrdersSubmitted: m.ordersSubmitted.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersRejected:  m.ordersRejected.Load(),
		StopExits:       m.stopExits.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		CircuitOpen:     m.circuitOpen.Load() == 1,
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksProcessed.Store(0)
	m.signalsEmitted.Store(0)
	m.ordersSubmitted.Store(0)
	m.ordersFilled.Store(0)
	m.ordersRejected.Store(0)
	m.stopExits.Store(0)
	m.errorsTotal.Store(0)
	m.circuitOpen.Store(0)
}
