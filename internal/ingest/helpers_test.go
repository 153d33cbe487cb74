package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"barsync/internal/config"
	"barsync/internal/gather"
	"barsync/internal/store"
	"barsync/internal/util"
)

type fetchCall struct {
	Start, End time.Time
}

// fakeFetcher returns one bar per minute of the requested window unless
// gen or fail say otherwise.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetchCall
	gen   func(start, end time.Time) []gather.RawBar
	fail  func(call int, start time.Time) error
}

func (f *fakeFetcher) GetBars(_ context.Context, symbols []string, start, end time.Time) (map[string][]gather.RawBar, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{start, end})
	n := len(f.calls)
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(n, start); err != nil {
			return nil, err
		}
	}
	gen := f.gen
	if gen == nil {
		gen = everyMinute
	}
	bars := gen(start, end)
	if len(bars) == 0 {
		return map[string][]gather.RawBar{}, nil
	}
	return map[string][]gather.RawBar{symbols[0]: bars}, nil
}

func (f *fakeFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func rawBar(ts time.Time) gather.RawBar {
	return gather.RawBar{Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10}
}

func everyMinute(start, end time.Time) []gather.RawBar {
	var out []gather.RawBar
	for ts := start; ts.Before(end); ts = ts.Add(time.Minute) {
		out = append(out, rawBar(ts))
	}
	return out
}

// at returns 2024-01-02 (a Tuesday) at hh:mm ET.
func at(hh, mm int) time.Time {
	return time.Date(2024, 1, 2, hh, mm, 0, 0, util.MarketLocation()).UTC()
}

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:", 5*time.Second)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testIngestConfig() config.Ingest {
	return config.Ingest{
		FetchMaxDays:  30,
		BatchSize:     1000,
		RetryAttempts: 3,
		RetryDelay:    0,
	}
}

func newTestLoader(t *testing.T, f gather.Fetcher, cfg config.Ingest) (*Loader, *Tracker, *store.SQLStore) {
	t.Helper()
	st := newTestStore(t)
	tr := NewTracker(st, nil, util.Discard())
	return NewLoader(f, st, tr, cfg, nil, util.Discard()), tr, st
}
