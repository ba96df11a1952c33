package domain

import "time"

// SignalAction is the closed set of strategy decisions.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// Side maps an actionable signal to an order side. HOLD has no side.
func (a SignalAction) Side() (Side, bool) {
	switch a {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Signal is a strategy decision for one symbol at one point in time.
// HOLD signals are inert and filtered by the engines.
type Signal struct {
	Action     SignalAction
	Symbol     string
	Price      float64 // reference price at decision time
	Timestamp  time.Time
	StopLoss   float64 // optional; 0 when unset
	TakeProfit float64 // optional; 0 when unset
	Confidence float64 // optional; 0 when unset
}

// Actionable reports whether the signal demands an order.
func (s *Signal) Actionable() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}
