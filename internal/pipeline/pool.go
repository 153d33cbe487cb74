package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"barsync/internal/ingest"
)

// Result is the outcome of one symbol's work in a run.
type Result struct {
	Bars  int    `json:"bars"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// OK reports whether the symbol finished without error.
func (r Result) OK() bool { return r.Err == nil }

type task func(ctx context.Context, symbol string) (int, error)

// runPool feeds symbols to a bounded set of workers. Every task also holds a
// slot of the orchestrator-wide semaphore, so concurrent runs share one
// limit. A failure for one symbol never affects the others.
func (o *Orchestrator) runPool(ctx context.Context, log *slog.Logger, symbols []string, fn task) map[string]Result {
	results := make(map[string]Result, len(symbols))
	if len(symbols) == 0 {
		return results
	}

	var mu sync.Mutex
	record := func(sym string, r Result) {
		if r.Err != nil {
			r.Error = r.Err.Error()
		}
		mu.Lock()
		results[sym] = r
		mu.Unlock()
	}

	symCh := make(chan string, len(symbols))
	for _, s := range symbols {
		symCh <- s
	}
	close(symCh)

	var wg sync.WaitGroup
	workers := min(o.maxConcurrency, len(symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if err := o.sem.Acquire(ctx, 1); err != nil {
					record(sym, Result{Err: err})
					continue
				}
				start := time.Now()
				r := o.runOne(ctx, sym, fn)
				o.sem.Release(1)
				record(sym, r)

				if r.Err != nil {
					log.Error("symbol failed", "symbol", sym, "bars", r.Bars, "error", r.Err)
				} else {
					log.Info("symbol done", "symbol", sym, "bars", r.Bars,
						"elapsed", time.Since(start).Round(time.Millisecond))
				}
			}
		}()
	}
	wg.Wait()
	return results
}

// runOne runs fn under the per-symbol timeout. A task that ignores
// cancellation is abandoned once the timeout fires; its result then carries
// the bars stored so far.
func (o *Orchestrator) runOne(ctx context.Context, sym string, fn task) Result {
	sctx, cancel := context.WithTimeout(ctx, o.symbolTimeout)
	defer cancel()
	var stored atomic.Int64
	sctx = ingest.WithProgress(sctx, &stored)

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Result{Err: fmt.Errorf("panic: %v", p)}
			}
		}()
		n, err := fn(sctx, sym)
		done <- Result{Bars: n, Err: err}
	}()

	select {
	case r := <-done:
		return r
	case <-sctx.Done():
		return Result{Bars: int(stored.Load()), Err: fmt.Errorf("%s: %w", sym, sctx.Err())}
	}
}

// Failed lists the symbols whose result carries an error.
func Failed(results map[string]Result) []string {
	var out []string
	for sym, r := range results {
		if r.Err != nil {
			out = append(out, sym)
		}
	}
	return out
}

// TotalBars sums bars across results.
func TotalBars(results map[string]Result) int {
	total := 0
	for _, r := range results {
		total += r.Bars
	}
	return total
}
