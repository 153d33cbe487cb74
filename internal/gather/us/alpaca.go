package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/sony/gobreaker"

	"barsync/internal/config"
	"barsync/internal/gather"
	"barsync/internal/util"
)

// Compile-time interface check.
var _ gather.Fetcher = (*BarFetcher)(nil)

// barsClient is the subset of the Alpaca market-data client BarFetcher uses.
type barsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// BarFetcher fetches one-minute bars for US equities via the Alpaca
// market-data API. Calls are paced by a token bucket and guarded by a
// circuit breaker; an open breaker surfaces as an ordinary error.
type BarFetcher struct {
	client  barsClient
	feed    marketdata.Feed
	limiter *util.RateLimiter
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// NewBarFetcher creates a BarFetcher from the Alpaca configuration section.
func NewBarFetcher(cfg config.Alpaca, log *slog.Logger) *BarFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return newBarFetcher(marketdata.NewClient(opts), cfg, log)
}

func newBarFetcher(client barsClient, cfg config.Alpaca, log *slog.Logger) *BarFetcher {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "alpaca-bars")

	failures := uint32(max(cfg.BreakerFailures, 1))
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alpaca-bars",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	feed := cfg.Feed
	if feed == "" {
		feed = "sip"
	}
	return &BarFetcher{
		client:  client,
		feed:    marketdata.Feed(feed),
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin),
		breaker: breaker,
		log:     log,
	}
}

// GetBars fetches minute bars for symbols within [start, end]. Symbol keys in
// the result are upper-cased.
func (f *BarFetcher) GetBars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]gather.RawBar, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := f.breaker.Execute(func() (interface{}, error) {
		// The SDK call is not cancellable; check before going out.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return f.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneMin,
			Start:     start,
			End:       end,
			Feed:      f.feed,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	multiBars, _ := res.(map[string][]marketdata.Bar)
	out := make(map[string][]gather.RawBar, len(multiBars))
	for symbol, alpacaBars := range multiBars {
		if len(alpacaBars) == 0 {
			continue
		}
		bars := make([]gather.RawBar, 0, len(alpacaBars))
		for _, ab := range alpacaBars {
			bars = append(bars, convertBar(ab))
		}
		out[strings.ToUpper(symbol)] = bars
	}

	f.log.Debug("bars fetched",
		"symbols", len(symbols),
		"hits", len(out),
		"start", start.UTC().Format(time.RFC3339),
		"end", end.UTC().Format(time.RFC3339),
	)
	return out, nil
}

// convertBar maps an Alpaca bar. Zero VWAP and trade count mean the feed did
// not provide them.
func convertBar(ab marketdata.Bar) gather.RawBar {
	rb := gather.RawBar{
		Timestamp: ab.Timestamp.UTC(),
		Open:      ab.Open,
		High:      ab.High,
		Low:       ab.Low,
		Close:     ab.Close,
		Volume:    ab.Volume,
	}
	if ab.VWAP != 0 {
		v := ab.VWAP
		rb.VWAP = &v
	}
	if ab.TradeCount != 0 {
		tc := int64(ab.TradeCount)
		rb.TradeCount = &tc
	}
	return rb
}
