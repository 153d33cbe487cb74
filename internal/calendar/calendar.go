// Package calendar answers trading-day and session-hour questions for the US
// equity market. Year-sized slices of the calendar are loaded from a Source
// through a Cache and then served from memory.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"barsync/internal/util"
)

const dateLayout = "2006-01-02"

// Calendar is the market calendar consulted by the gap filter and the
// coverage check. Dates are interpreted as ET market dates.
type Calendar interface {
	IsTradingDay(ctx context.Context, date time.Time) (bool, error)
	// SessionHours returns the regular session of date; ok is false on
	// non-trading days.
	SessionHours(ctx context.Context, date time.Time) (h Hours, ok bool, err error)
	ExpectedMinutes(ctx context.Context, date time.Time) (int64, error)
	// TotalExpectedMinutes sums ExpectedMinutes over [from, to], inclusive.
	TotalExpectedMinutes(ctx context.Context, from, to time.Time) (int64, error)
	// LatestFinishedDay is the most recent trading day whose extended
	// session has ended as of now.
	LatestFinishedDay(ctx context.Context, now time.Time) (time.Time, error)
}

// Hours is a regular trading session as absolute instants.
type Hours struct {
	Open  time.Time
	Close time.Time
}

// Minutes returns the session length in whole minutes.
func (h Hours) Minutes() int64 {
	return int64(h.Close.Sub(h.Open) / time.Minute)
}

// Contains reports whether t lies within [Open, Close].
func (h Hours) Contains(t time.Time) bool {
	return !t.Before(h.Open) && !t.After(h.Close)
}

// Day is one trading day as published by a Source. Open and Close are ET
// wall-clock times (HH:MM).
type Day struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
}

func (d Day) hours() (Hours, error) {
	date, err := time.ParseInLocation(dateLayout, d.Date, util.MarketLocation())
	if err != nil {
		return Hours{}, fmt.Errorf("parsing calendar date %q: %w", d.Date, err)
	}
	open, err := clock(date, d.Open)
	if err != nil {
		return Hours{}, err
	}
	closeAt, err := clock(date, d.Close)
	if err != nil {
		return Hours{}, err
	}
	return Hours{Open: open, Close: closeAt}, nil
}

func clock(date time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing session time %q: %w", hhmm, err)
	}
	return util.AtClock(date, t.Hour(), t.Minute()), nil
}

// Source publishes the trading days within [from, to].
type Source interface {
	Days(ctx context.Context, from, to time.Time) ([]Day, error)
}

// Cache stores a year's worth of Days.
type Cache interface {
	Get(ctx context.Context, year int) (days []Day, ok bool, err error)
	Set(ctx context.Context, year int, days []Day) error
}

// Compile-time interface check.
var _ Calendar = (*Market)(nil)

// Market implements Calendar over a Source and a Cache.
type Market struct {
	source Source
	cache  Cache
	log    *slog.Logger

	// loads collapses concurrent first lookups of a year; mu guards only
	// the years map and is never held across I/O.
	loads singleflight.Group
	mu    sync.Mutex
	years map[int]map[string]Hours
}

// NewMarket creates a Market. A nil cache falls back to a MemoryCache.
func NewMarket(source Source, cache Cache, log *slog.Logger) *Market {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Market{
		source: source,
		cache:  cache,
		log:    log.With("component", "calendar"),
		years:  make(map[int]map[string]Hours),
	}
}

// year returns the session hours of every trading day in year, keyed by date.
func (m *Market) year(ctx context.Context, year int) (map[string]Hours, error) {
	m.mu.Lock()
	y, ok := m.years[year]
	m.mu.Unlock()
	if ok {
		return y, nil
	}

	v, err, _ := m.loads.Do(strconv.Itoa(year), func() (any, error) {
		m.mu.Lock()
		y, ok := m.years[year]
		m.mu.Unlock()
		if ok {
			return y, nil
		}
		y, err := m.load(ctx, year)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.years[year] = y
		m.mu.Unlock()
		return y, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Hours), nil
}

func (m *Market) load(ctx context.Context, year int) (map[string]Hours, error) {
	days, ok, err := m.cache.Get(ctx, year)
	if err != nil {
		// A broken cache only costs a source round trip.
		m.log.Warn("calendar cache read failed", "year", year, "error", err)
		ok = false
	}
	if !ok {
		from := time.Date(year, 1, 1, 0, 0, 0, 0, util.MarketLocation())
		to := time.Date(year, 12, 31, 0, 0, 0, 0, util.MarketLocation())
		days, err = m.source.Days(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("loading %d calendar: %w", year, err)
		}
		if err := m.cache.Set(ctx, year, days); err != nil {
			m.log.Warn("calendar cache write failed", "year", year, "error", err)
		}
		m.log.Debug("calendar loaded", "year", year, "days", len(days))
	}

	y := make(map[string]Hours, len(days))
	for _, d := range days {
		h, err := d.hours()
		if err != nil {
			return nil, err
		}
		y[d.Date] = h
	}
	return y, nil
}

// SessionHours returns the regular session for the market date of date.
func (m *Market) SessionHours(ctx context.Context, date time.Time) (Hours, bool, error) {
	d := util.MarketDate(date)
	y, err := m.year(ctx, d.Year())
	if err != nil {
		return Hours{}, false, err
	}
	h, ok := y[d.Format(dateLayout)]
	return h, ok, nil
}

// IsTradingDay reports whether the market is open on date.
func (m *Market) IsTradingDay(ctx context.Context, date time.Time) (bool, error) {
	_, ok, err := m.SessionHours(ctx, date)
	return ok, err
}

// ExpectedMinutes is the number of regular-session minutes on date.
func (m *Market) ExpectedMinutes(ctx context.Context, date time.Time) (int64, error) {
	h, ok, err := m.SessionHours(ctx, date)
	if err != nil || !ok {
		return 0, err
	}
	return h.Minutes(), nil
}

// TotalExpectedMinutes sums regular-session minutes across [from, to].
func (m *Market) TotalExpectedMinutes(ctx context.Context, from, to time.Time) (int64, error) {
	start, end := util.MarketDate(from), util.MarketDate(to)
	var total int64
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		n, err := m.ExpectedMinutes(ctx, d)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// finishedCutoff is when a day's extended-hours data is considered settled.
const finishedCutoffHour, finishedCutoffMinute = 20, 5

// LatestFinishedDay returns the most recent trading day whose extended
// session has ended, looking back at most two weeks.
func (m *Market) LatestFinishedDay(ctx context.Context, now time.Time) (time.Time, error) {
	today := util.MarketDate(now)
	for i := 0; i <= 14; i++ {
		d := today.AddDate(0, 0, -i)
		if i == 0 && now.Before(util.AtClock(d, finishedCutoffHour, finishedCutoffMinute)) {
			continue
		}
		ok, err := m.IsTradingDay(ctx, d)
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("no finished trading day in the two weeks before %s", today.Format(dateLayout))
}
