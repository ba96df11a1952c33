package domain

import (
	"fmt"
	"time"
)

// Timeframe identifies the sampling interval of a bar.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1Min"
	Timeframe5Min  Timeframe = "5Min"
	Timeframe15Min Timeframe = "15Min"
	Timeframe1Hour Timeframe = "1Hour"
	Timeframe1Day  Timeframe = "1Day"
)

// IsIntraday reports whether bars of this timeframe are finer than one day.
func (tf Timeframe) IsIntraday() bool {
	return tf != Timeframe1Day
}

// Bar is a single OHLCV sample. Timestamps are naive UTC.
// A Bar is immutable once produced; bars from a source arrive in
// non-decreasing timestamp order per symbol.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Timeframe Timeframe
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Validate checks the OHLCV shape: low <= open,close <= high and volume >= 0.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidBar)
	}
	if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close || b.Low > b.High {
		return fmt.Errorf("%w: %s OHLC out of range (O=%.4f H=%.4f L=%.4f C=%.4f)",
			ErrInvalidBar, b.Symbol, b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: %s negative volume %d", ErrInvalidBar, b.Symbol, b.Volume)
	}
	return nil
}

// VWAP returns the typical price (high+low+close)/3 used as the
// volume-weighted reference when no per-trade data exists.
func (b *Bar) VWAP() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Crosses reports whether price lies within the bar's [low, high] range.
func (b *Bar) Crosses(price float64) bool {
	return price >= b.Low && price <= b.High
}

// Tick is a single real-time price observation pushed by a market data feed.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    int64
	Timestamp time.Time
}

// MarketSnapshot is the point-in-time cross-sectional view handed to
// strategies. It is built once per tick and never mutated afterwards.
type MarketSnapshot struct {
	Timestamp time.Time
	Prices    map[string]float64
	Bars      map[string]*Bar
}

// Price returns the latest price for symbol, ok=false when unknown.
func (s *MarketSnapshot) Price(symbol string) (float64, bool) {
	p, ok := s.Prices[symbol]
	return p, ok
}
