package tracker

import "time"

// EquityPoint is one sample of total portfolio value.
type EquityPoint struct {
	Timestamp time.Time
	Value     float64
}

// EquityTracker records the total portfolio value after mark-to-market on
// every tick. Timestamps are appended in non-decreasing order.
type EquityTracker struct {
	points []EquityPoint
}

// NewEquityTracker creates an empty tracker.
func NewEquityTracker() *EquityTracker {
	return &EquityTracker{}
}

// Record appends one equity sample.
func (e *EquityTracker) Record(ts time.Time, value float64) {
	e.points = append(e.points, EquityPoint{Timestamp: ts, Value: value})
}

// Curve returns the recorded series.
func (e *EquityTracker) Curve() []EquityPoint {
	return e.points
}

// Len returns the number of recorded samples.
func (e *EquityTracker) Len() int {
	return len(e.points)
}

// Initial returns the first recorded value (0 when empty).
func (e *EquityTracker) Initial() float64 {
	if len(e.points) == 0 {
		return 0
	}
	return e.points[0].Value
}

// Current returns the latest recorded value (0 when empty).
func (e *EquityTracker) Current() float64 {
	if len(e.points) == 0 {
		return 0
	}
	return e.points[len(e.points)-1].Value
}

// TotalReturn returns (current - initial) / initial, 0 when empty.
func (e *EquityTracker) TotalReturn() float64 {
	initial := e.Initial()
	if initial == 0 {
		return 0
	}
	return (e.Current() - initial) / initial
}
