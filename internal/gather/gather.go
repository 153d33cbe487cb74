// Package gather defines the upstream bar source used by the ingestion
// pipeline. Market-specific implementations live in subpackages.
package gather

import (
	"context"
	"time"
)

// Fetcher retrieves minute bars from an upstream market-data provider.
type Fetcher interface {
	// GetBars returns bars for each symbol within [start, end]. Symbols
	// without data are absent from the map; an empty map is a success.
	// Every error is treated as retriable by callers.
	GetBars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]RawBar, error)
}

// RawBar is one upstream minute bar before conversion to domain.Bar.
type RawBar struct {
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     uint64
	VWAP       *float64
	TradeCount *int64
}
