package event

import (
	"sync"

	"trader_go/internal/domain"
)

// TickEvent pool: ticks are the hotpath allocation, so they are recycled
// through a sync.Pool to reduce GC pressure.
//
// Usage:
//
//	ev := AcquireTickEvent()
//	ev.Tick = tick
//	// ... enqueue, process ...
//	ReleaseTickEvent(ev)  // return to pool after processing
var tickPool = sync.Pool{
	New: func() interface{} {
		return &TickEvent{}
	},
}

// AcquireTickEvent gets a TickEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireTickEvent() *TickEvent {
	return tickPool.Get().(*TickEvent)
}

// ReleaseTickEvent returns a TickEvent to the pool.
func ReleaseTickEvent(ev *TickEvent) {
	if ev == nil {
		return
	}
	ev.Tick = domain.Tick{}
	tickPool.Put(ev)
}

// BrokerFillEvent pool
var fillPool = sync.Pool{
	New: func() interface{} {
		return &BrokerFillEvent{}
	},
}

// AcquireBrokerFillEvent gets a BrokerFillEvent from the pool.
func AcquireBrokerFillEvent() *BrokerFillEvent {
	return fillPool.Get().(*BrokerFillEvent)
}

// ReleaseBrokerFillEvent returns a BrokerFillEvent to the pool.
func ReleaseBrokerFillEvent(ev *BrokerFillEvent) {
	if ev == nil {
		return
	}
	*ev = BrokerFillEvent{}
	fillPool.Put(ev)
}
