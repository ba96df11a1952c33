package execution

import (
	"fmt"
	"log/slog"
	"time"

	"trader_go/internal/domain"
)

// Validation rejection codes. Stable, machine-readable; detail strings are
// for humans only.
const (
	CodeRateLimitGlobal     = "RATE_LIMIT_GLOBAL"
	CodeRateLimitSymbol     = "RATE_LIMIT_SYMBOL"
	CodeInsufficientCapital = "INSUFFICIENT_CAPITAL"
	CodePositionSize        = "POSITION_SIZE_EXCEEDED"
	CodePositionValue       = "POSITION_VALUE_EXCEEDED"
	CodeTotalExposure       = "TOTAL_EXPOSURE_EXCEEDED"
)

// RiskLimits are the pre-trade check thresholds.
type RiskLimits struct {
	MaxPositionSize       int64   // absolute share count per symbol
	MaxPositionValue      float64 // absolute dollar value per symbol
	MaxTotalExposure      float64 // sum of absolute position values
	MaxOrdersPerMinute    int     // global rate limit
	MaxOrdersPerMinSymbol int     // per-symbol rate limit
	MinCashBuffer         float64 // cash floor for buys
}

// ValidationResult is the outcome of the pre-trade checks. Rejections are
// audit events only; they never mutate portfolio state.
type ValidationResult struct {
	OK     bool
	Code   string
	Detail string
}

func reject(code, format string, args ...any) ValidationResult {
	return ValidationResult{OK: false, Code: code, Detail: fmt.Sprintf(format, args...)}
}

const rateWindow = 60 * time.Second

// rateRing is a bounded ring of submission timestamps forming a sliding
// 60-second window. The clock only moves forward; expired entries are
// dropped from the head on every touch.
type rateRing struct {
	ts []time.Time
}

func (r *rateRing) prune(now time.Time) {
	cut := 0
	for cut < len(r.ts) && now.Sub(r.ts[cut]) >= rateWindow {
		cut++
	}
	if cut > 0 {
		r.ts = r.ts[cut:]
	}
}

func (r *rateRing) count(now time.Time) int {
	r.prune(now)
	return len(r.ts)
}

func (r *rateRing) record(now time.Time) {
	r.prune(now)
	r.ts = append(r.ts, now)
}

// Validator runs the pre-trade check chain, short-circuiting on the first
// failure. Check order is fixed: global rate, symbol rate, capital,
// position size, position value, total exposure.
type Validator struct {
	limits RiskLimits
	global rateRing
	bySym  map[string]*rateRing
}

// NewValidator creates a validator with the given limits.
func NewValidator(limits RiskLimits) *Validator {
	return &Validator{
		limits: limits,
		bySym:  make(map[string]*rateRing),
	}
}

// Validate checks an order candidate against all limits using the current
// portfolio state and prices. The reference price is used both for capital
// and exposure arithmetic.
func (v *Validator) Validate(
	symbol string,
	side domain.Side,
	qty int64,
	refPrice float64,
	portfolio *domain.Portfolio,
	now time.Time,
) ValidationResult {
	// 1. Global rate limit.
	if n := v.global.count(now); n >= v.limits.MaxOrdersPerMinute {
		return reject(CodeRateLimitGlobal,
			"%d orders in trailing 60s (limit %d)", n, v.limits.MaxOrdersPerMinute)
	}

	// 2. Per-symbol rate limit.
	if ring, ok := v.bySym[symbol]; ok {
		if n := ring.count(now); n >= v.limits.MaxOrdersPerMinSymbol {
			return reject(CodeRateLimitSymbol,
				"%s: %d orders in trailing 60s (limit %d)", symbol, n, v.limits.MaxOrdersPerMinSymbol)
		}
	}

	orderValue := float64(qty) * refPrice

	// 3. Capital (buys only).
	if side == domain.SideBuy {
		available := portfolio.Cash() - v.limits.MinCashBuffer
		if orderValue > available {
			return reject(CodeInsufficientCapital,
				"need %.2f, available %.2f (cash %.2f - buffer %.2f)",
				orderValue, available, portfolio.Cash(), v.limits.MinCashBuffer)
		}
	}

	// 4. Resulting position size.
	newQty := portfolio.Qty(symbol) + qty*side.Multiplier()
	if abs64(newQty) > v.limits.MaxPositionSize {
		return reject(CodePositionSize,
			"%s: resulting qty %d exceeds limit %d", symbol, newQty, v.limits.MaxPositionSize)
	}

	// 5. Resulting position value.
	newValue := float64(abs64(newQty)) * refPrice
	if newValue > v.limits.MaxPositionValue {
		return reject(CodePositionValue,
			"%s: resulting value %.2f exceeds limit %.2f", symbol, newValue, v.limits.MaxPositionValue)
	}

	// 6. Total exposure.
	exposure := portfolio.TotalExposure() + orderValue
	if exposure > v.limits.MaxTotalExposure {
		return reject(CodeTotalExposure,
			"exposure %.2f exceeds limit %.2f", exposure, v.limits.MaxTotalExposure)
	}

	return ValidationResult{OK: true}
}

// Record notes a successful submission for rate limiting. Call AFTER the
// order has actually been submitted.
func (v *Validator) Record(symbol string, now time.Time) {
	v.global.record(now)
	ring, ok := v.bySym[symbol]
	if !ok {
		ring = &rateRing{}
		v.bySym[symbol] = ring
	}
	ring.record(now)
	slog.Debug("order recorded for rate limit",
		slog.String("symbol", symbol),
		slog.Int("global_window", len(v.global.ts)))
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
