// Package domain defines the core types shared across barsync: minute bars,
// fetch jobs, gaps, and quality reports.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidBar is wrapped by every bar validation failure.
var ErrInvalidBar = errors.New("invalid bar")

// Session classifies a bar by the trading-hours window it falls in.
type Session string

const (
	SessionPre     Session = "pre"
	SessionRegular Session = "regular"
	SessionAfter   Session = "after"
	SessionClosed  Session = "closed"
)

// Bar is one minute of aggregated trading for one symbol. The pair
// (Symbol, Timestamp) is the natural key.
type Bar struct {
	Symbol     string              `json:"symbol"`
	Timestamp  time.Time           `json:"timestamp"`
	Open       decimal.Decimal     `json:"open"`
	High       decimal.Decimal     `json:"high"`
	Low        decimal.Decimal     `json:"low"`
	Close      decimal.Decimal     `json:"close"`
	Volume     int64               `json:"volume"`
	VWAP       decimal.NullDecimal `json:"vwap"`
	TradeCount *int64              `json:"trade_count,omitempty"`
	Session    Session             `json:"session"`
}

// Key returns the composite key used for idempotent writes.
func (b Bar) Key() BarKey {
	return BarKey{Symbol: b.Symbol, Timestamp: b.Timestamp.UTC().Truncate(time.Minute)}
}

// BarKey is the (symbol, minute) identity of a bar.
type BarKey struct {
	Symbol    string
	Timestamp time.Time
}

// OHLCViolation reports whether the bar's high/low bracket fails to contain
// its open and close.
func (b Bar) OHLCViolation() bool {
	return b.High.LessThan(b.Open) ||
		b.High.LessThan(b.Close) ||
		b.Low.GreaterThan(b.Open) ||
		b.Low.GreaterThan(b.Close)
}

// Validate checks the bar invariants: high >= max(open, close),
// low <= min(open, close) and a non-negative volume.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidBar)
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%w: %s: zero timestamp", ErrInvalidBar, b.Symbol)
	}
	if b.OHLCViolation() {
		return fmt.Errorf("%w: %s@%s: o=%s h=%s l=%s c=%s",
			ErrInvalidBar, b.Symbol, b.Timestamp.UTC().Format(time.RFC3339),
			b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: %s@%s: negative volume %d",
			ErrInvalidBar, b.Symbol, b.Timestamp.UTC().Format(time.RFC3339), b.Volume)
	}
	return nil
}
