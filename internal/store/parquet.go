package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"barsync/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// priceScale is the number of decimal places kept in fixed-point prices.
const priceScale = 6

// ParquetStore implements BarStore using Parquet files on disk, one file per
// symbol and UTC year. It is meant for archival and offline analysis; fetch
// jobs always live in a SQLStore.
type ParquetStore struct {
	DataDir string

	mu sync.Mutex // serializes read-merge-write cycles
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for minute bars. Prices are fixed-point
// integers scaled by 10^6.
type BarRecord struct {
	Symbol     string `parquet:"symbol"`
	Timestamp  int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       int64  `parquet:"open"`
	High       int64  `parquet:"high"`
	Low        int64  `parquet:"low"`
	Close      int64  `parquet:"close"`
	Volume     int64  `parquet:"volume"`
	VWAP       *int64 `parquet:"vwap,optional"`
	TradeCount *int64 `parquet:"trade_count,optional"`
	Session    string `parquet:"session"`
}

func toFixed(d decimal.Decimal) int64 {
	return d.Shift(priceScale).Round(0).IntPart()
}

func fromFixed(v int64) decimal.Decimal {
	return decimal.New(v, -priceScale)
}

func recordFromBar(b domain.Bar) BarRecord {
	r := BarRecord{
		Symbol:     b.Symbol,
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       toFixed(b.Open),
		High:       toFixed(b.High),
		Low:        toFixed(b.Low),
		Close:      toFixed(b.Close),
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		Session:    string(sessionOf(b)),
	}
	if b.VWAP.Valid {
		v := toFixed(b.VWAP.Decimal)
		r.VWAP = &v
	}
	return r
}

func (r BarRecord) toBar() domain.Bar {
	b := domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       fromFixed(r.Open),
		High:       fromFixed(r.High),
		Low:        fromFixed(r.Low),
		Close:      fromFixed(r.Close),
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		Session:    domain.Session(r.Session),
	}
	if r.VWAP != nil {
		b.VWAP = decimal.NewNullDecimal(fromFixed(*r.VWAP))
	}
	return b
}

func (r BarRecord) violatesOHLC() bool {
	return r.High < r.Open || r.High < r.Close || r.Low > r.Open || r.Low > r.Close
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// UpsertBars writes bars to Parquet files organized by symbol and year,
// merging with what is already on disk. Each symbol+year combination lives at:
//
//	<DataDir>/bars/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) UpsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], recordFromBar(b))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, records := range groups {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		path := s.barPath(k.symbol, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("reading bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return 0, fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return len(bars), nil
}

// QueryTimestamps returns stored timestamps for symbol within [from, to].
func (s *ParquetStore) QueryTimestamps(_ context.Context, symbol string, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	err := s.scan(symbol, from.UTC().Year(), to.UTC().Year(), func(r BarRecord) {
		ts := time.UnixMilli(r.Timestamp).UTC()
		if !ts.Before(from) && !ts.After(to) {
			out = append(out, ts)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// CountAndRange returns the bar count and time span stored for symbol.
func (s *ParquetStore) CountAndRange(_ context.Context, symbol string) (BarRange, error) {
	years, err := s.years(symbol)
	if err != nil || len(years) == 0 {
		return BarRange{}, err
	}

	var br BarRange
	var lo, hi int64
	err = s.scan(symbol, years[0], years[len(years)-1], func(r BarRecord) {
		if br.Total == 0 || r.Timestamp < lo {
			lo = r.Timestamp
		}
		if br.Total == 0 || r.Timestamp > hi {
			hi = r.Timestamp
		}
		br.Total++
	})
	if err != nil {
		return BarRange{}, err
	}
	if br.Total > 0 {
		br.Earliest = time.UnixMilli(lo).UTC()
		br.Latest = time.UnixMilli(hi).UTC()
	}
	return br, nil
}

// CountRange counts bars for symbol within [from, to).
func (s *ParquetStore) CountRange(_ context.Context, symbol string, from, to time.Time) (int64, error) {
	var n int64
	err := s.scan(symbol, from.UTC().Year(), to.UTC().Year(), func(r BarRecord) {
		ts := time.UnixMilli(r.Timestamp)
		if !ts.Before(from) && ts.Before(to) {
			n++
		}
	})
	return n, err
}

// CountWhere counts bars of symbol matching p.
func (s *ParquetStore) CountWhere(_ context.Context, symbol string, p Predicate) (int64, error) {
	if p == DuplicateKey {
		dups, err := s.duplicates(symbol)
		return int64(len(dups)), err
	}
	bars, err := s.matching(symbol, p, -1)
	return int64(len(bars)), err
}

// SampleWhere returns up to limit bars of symbol matching p, oldest first.
func (s *ParquetStore) SampleWhere(_ context.Context, symbol string, p Predicate, limit int) ([]domain.Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.matching(symbol, p, limit)
}

// Ping verifies the data directory is reachable.
func (s *ParquetStore) Ping(context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.DataDir, "bars"), 0o755); err != nil {
		return fmt.Errorf("parquet data dir: %w", err)
	}
	return nil
}

// ListSymbols lists all symbols that have bar data.
func (s *ParquetStore) ListSymbols(context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "bars")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *ParquetStore) matching(symbol string, p Predicate, limit int) ([]domain.Bar, error) {
	if p == DuplicateKey {
		dups, err := s.duplicates(symbol)
		if err != nil {
			return nil, err
		}
		if limit >= 0 && len(dups) > limit {
			dups = dups[:limit]
		}
		return dups, nil
	}

	years, err := s.years(symbol)
	if err != nil || len(years) == 0 {
		return nil, err
	}
	var out []domain.Bar
	err = s.scan(symbol, years[0], years[len(years)-1], func(r BarRecord) {
		var ok bool
		switch p {
		case OHLCViolation:
			ok = r.violatesOHLC()
		case RegularSession:
			ok = r.Session == string(domain.SessionRegular)
		}
		if ok {
			out = append(out, r.toBar())
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// duplicates returns one bar per timestamp that appears more than once in
// the symbol's files. Files written by UpsertBars never contain any.
func (s *ParquetStore) duplicates(symbol string) ([]domain.Bar, error) {
	years, err := s.years(symbol)
	if err != nil || len(years) == 0 {
		return nil, err
	}
	seen := make(map[int64]int)
	first := make(map[int64]BarRecord)
	err = s.scan(symbol, years[0], years[len(years)-1], func(r BarRecord) {
		seen[r.Timestamp]++
		if _, ok := first[r.Timestamp]; !ok {
			first[r.Timestamp] = r
		}
	})
	if err != nil {
		return nil, err
	}
	var out []domain.Bar
	for ts, n := range seen {
		if n > 1 {
			out = append(out, first[ts].toBar())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// scan calls fn for each record of symbol stored in the given year files.
func (s *ParquetStore) scan(symbol string, fromYear, toYear int, fn func(BarRecord)) error {
	for year := fromYear; year <= toYear; year++ {
		records, err := readParquetFile[BarRecord](s.barPath(symbol, year))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}
		for _, r := range records {
			fn(r)
		}
	}
	return nil
}

// years lists the year files present for symbol, ascending.
func (s *ParquetStore) years(symbol string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "bars", strings.ToUpper(symbol)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".parquet")
		if y, err := strconv.Atoi(name); err == nil && !e.IsDir() {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/bars/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, "bars", strings.ToUpper(symbol), strconv.Itoa(year)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
