package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"

	"barsync/internal/util"
)

type countingSource struct {
	Source
	calls atomic.Int32
}

func (c *countingSource) Days(ctx context.Context, from, to time.Time) ([]Day, error) {
	c.calls.Add(1)
	return c.Source.Days(ctx, from, to)
}

// gatedSource blocks loads of year until gate is closed.
type gatedSource struct {
	Source
	year    int
	gate    chan struct{}
	started chan struct{}
	calls   atomic.Int32
}

func (g *gatedSource) Days(ctx context.Context, from, to time.Time) ([]Day, error) {
	if from.Year() == g.year {
		if g.calls.Add(1) == 1 {
			close(g.started)
		}
		<-g.gate
	}
	return g.Source.Days(ctx, from, to)
}

type failingSource struct{}

func (failingSource) Days(context.Context, time.Time, time.Time) ([]Day, error) {
	return nil, errors.New("calendar down")
}

func et(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, util.MarketLocation())
}

func newTestMarket() (*Market, *countingSource) {
	src := &countingSource{Source: NewStatic(
		[]string{"2024-01-15"},
		map[string]string{"2024-11-29": "13:00"},
	)}
	return NewMarket(src, nil, util.Discard()), src
}

func TestExpectedMinutes(t *testing.T) {
	m, _ := newTestMarket()
	ctx := context.Background()

	tests := []struct {
		name string
		date time.Time
		want int64
	}{
		{"weekday", et(2024, 1, 8, 0, 0), 390},
		{"saturday", et(2024, 1, 6, 0, 0), 0},
		{"holiday", et(2024, 1, 15, 0, 0), 0},
		{"early close", et(2024, 11, 29, 0, 0), 210},
		{"utc instant late evening", time.Date(2024, 1, 9, 3, 0, 0, 0, time.UTC), 390}, // Jan 8 22:00 ET
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ExpectedMinutes(ctx, tt.date)
			if err != nil {
				t.Fatalf("ExpectedMinutes: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExpectedMinutes(%s) = %d, want %d", tt.date, got, tt.want)
			}
		})
	}
}

func TestTotalExpectedMinutes(t *testing.T) {
	m, src := newTestMarket()
	ctx := context.Background()

	// Mon-Wed: three full sessions.
	got, err := m.TotalExpectedMinutes(ctx, et(2024, 1, 8, 9, 30), et(2024, 1, 10, 15, 59))
	if err != nil {
		t.Fatalf("TotalExpectedMinutes: %v", err)
	}
	if got != 1170 {
		t.Errorf("TotalExpectedMinutes = %d, want 1170", got)
	}
	if src.calls.Load() != 1 {
		t.Errorf("source calls = %d, want 1 per year", src.calls.Load())
	}
}

func TestSessionHours(t *testing.T) {
	m, _ := newTestMarket()
	h, ok, err := m.SessionHours(context.Background(), et(2024, 1, 8, 12, 0))
	if err != nil || !ok {
		t.Fatalf("SessionHours = %v, %v", ok, err)
	}
	if !h.Open.Equal(et(2024, 1, 8, 9, 30)) || !h.Close.Equal(et(2024, 1, 8, 16, 0)) {
		t.Errorf("hours = %s..%s", h.Open, h.Close)
	}
	if !h.Contains(et(2024, 1, 8, 10, 0)) || h.Contains(et(2024, 1, 8, 17, 0)) {
		t.Error("Contains gave wrong answer")
	}
}

func TestLatestFinishedDay(t *testing.T) {
	m, _ := newTestMarket()
	ctx := context.Background()

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"monday morning", et(2024, 1, 8, 10, 0), et(2024, 1, 5, 0, 0)},
		{"monday after cutoff", et(2024, 1, 8, 20, 30), et(2024, 1, 8, 0, 0)},
		{"sunday", et(2024, 1, 7, 12, 0), et(2024, 1, 5, 0, 0)},
		{"tuesday after holiday", et(2024, 1, 16, 9, 0), et(2024, 1, 12, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.LatestFinishedDay(ctx, tt.now)
			if err != nil {
				t.Fatalf("LatestFinishedDay: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("LatestFinishedDay(%s) = %s, want %s", tt.now, got, tt.want)
			}
		})
	}
}

func TestMarketSlowYearDoesNotBlockLoadedYear(t *testing.T) {
	src := &gatedSource{
		Source:  NewStatic(nil, nil),
		year:    2025,
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	m := NewMarket(src, nil, util.Discard())
	ctx := context.Background()

	if _, err := m.ExpectedMinutes(ctx, et(2024, 1, 8, 0, 0)); err != nil {
		t.Fatalf("loading 2024: %v", err)
	}

	const lookups = 8
	var wg sync.WaitGroup
	errs := make(chan error, lookups)
	for i := 0; i < lookups; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := m.ExpectedMinutes(ctx, et(2025, 1, 6, 0, 0))
			if err == nil && n != 390 {
				err = fmt.Errorf("2025-01-06 minutes = %d, want 390", n)
			}
			errs <- err
		}()
	}
	<-src.started

	// 2025 is still loading; 2024 must answer from memory.
	done := make(chan error, 1)
	go func() {
		_, err := m.ExpectedMinutes(ctx, et(2024, 1, 9, 0, 0))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("2024 lookup: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("2024 lookup blocked behind the 2025 load")
	}

	close(src.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("2025 source calls = %d, want 1 for concurrent lookups", got)
	}
}

func TestMarketSourceError(t *testing.T) {
	m := NewMarket(failingSource{}, nil, util.Discard())
	if _, err := m.ExpectedMinutes(context.Background(), et(2024, 1, 8, 0, 0)); err == nil {
		t.Fatal("expected error from failing source")
	}
}

func TestMarketUsesCache(t *testing.T) {
	cache := NewMemoryCache()
	days := []Day{{Date: "2024-01-08", Open: "09:30", Close: "12:00"}}
	if err := cache.Set(context.Background(), 2024, days); err != nil {
		t.Fatal(err)
	}
	src := &countingSource{Source: NewStatic(nil, nil)}
	m := NewMarket(src, cache, util.Discard())

	got, err := m.ExpectedMinutes(context.Background(), et(2024, 1, 8, 0, 0))
	if err != nil {
		t.Fatalf("ExpectedMinutes: %v", err)
	}
	if got != 150 {
		t.Errorf("ExpectedMinutes = %d, want 150 from cache", got)
	}
	if src.calls.Load() != 0 {
		t.Errorf("source calls = %d, want 0", src.calls.Load())
	}
}

func TestRedisCacheMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, time.Hour)

	mock.ExpectGet("barsync:calendar:2024").RedisNil()

	_, ok, err := c.Get(context.Background(), 2024)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected cache miss")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, time.Hour)
	days := []Day{{Date: "2024-01-08", Open: "09:30", Close: "16:00"}}
	raw, _ := json.Marshal(days)

	mock.ExpectSet("barsync:calendar:2024", raw, time.Hour).SetVal("OK")
	mock.ExpectGet("barsync:calendar:2024").SetVal(string(raw))

	if err := c.Set(context.Background(), 2024, days); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(context.Background(), 2024)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if len(got) != 1 || got[0] != days[0] {
		t.Errorf("Get = %+v, want %+v", got, days)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisCacheError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, time.Hour)
	mock.ExpectGet("barsync:calendar:2024").SetErr(errors.New("connection refused"))

	if _, _, err := c.Get(context.Background(), 2024); err == nil {
		t.Fatal("expected error")
	}
}
