package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver.
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"barsync/internal/domain"
	"barsync/internal/util"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Compile-time interface checks.
var _ BarStore = (*SQLStore)(nil)
var _ JobStore = (*SQLStore)(nil)

// SQLStore implements BarStore and JobStore on SQLite or PostgreSQL. Queries
// are written with '?' placeholders and rebound for the active driver.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
	timeout time.Duration
}

// NewSQLStore wraps an existing connection. It does not run migrations.
func NewSQLStore(db *sqlx.DB, dialect Dialect, timeout time.Duration) *SQLStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SQLStore{db: db, dialect: dialect, timeout: timeout}
}

// OpenSQLite opens (or creates) a SQLite database at path, applies the
// schema, and returns a ready-to-use SQLStore. Use ":memory:" for an
// ephemeral database.
func OpenSQLite(ctx context.Context, path string, timeout time.Duration) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// One connection: writers serialize, and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)

	s := NewSQLStore(db, DialectSQLite, timeout)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring sqlite: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to PostgreSQL, configures the pool, applies the
// schema, and returns a ready-to-use SQLStore.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int, timeout time.Duration) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(max(maxOpenConns/2, 1))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewSQLStore(db, DialectPostgres, timeout)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemas[s.dialect] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating %s schema: %w", s.dialect, err)
		}
	}
	return nil
}

// Dialect reports the SQL flavour of the store.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

type barRow struct {
	Symbol     string              `db:"symbol"`
	TS         int64               `db:"ts"`
	Open       decimal.Decimal     `db:"open"`
	High       decimal.Decimal     `db:"high"`
	Low        decimal.Decimal     `db:"low"`
	Close      decimal.Decimal     `db:"close"`
	Volume     int64               `db:"volume"`
	VWAP       decimal.NullDecimal `db:"vwap"`
	TradeCount sql.NullInt64       `db:"trade_count"`
	Session    string              `db:"session"`
}

func (r barRow) toBar() domain.Bar {
	b := domain.Bar{
		Symbol:    r.Symbol,
		Timestamp: time.Unix(r.TS, 0).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		VWAP:      r.VWAP,
		Session:   domain.Session(r.Session),
	}
	if r.TradeCount.Valid {
		tc := r.TradeCount.Int64
		b.TradeCount = &tc
	}
	return b
}

func sessionOf(b domain.Bar) domain.Session {
	if b.Session != "" {
		return b.Session
	}
	return util.ClassifySession(b.Timestamp)
}

// UpsertBars writes bars in a single transaction. Rows whose (symbol, ts)
// already exist have their OHLCV fields replaced.
func (s *SQLStore) UpsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout*time.Duration(len(bars)/1000+1))
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(upsertBarSQL))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		var tc sql.NullInt64
		if b.TradeCount != nil {
			tc = sql.NullInt64{Int64: *b.TradeCount, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			b.Symbol, b.Timestamp.Unix(),
			b.Open, b.High, b.Low, b.Close,
			b.Volume, b.VWAP, tc, string(sessionOf(b)))
		if err != nil {
			return 0, fmt.Errorf("upserting %s@%s: %w", b.Symbol, b.Timestamp.UTC().Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing bars: %w", err)
	}
	return len(bars), nil
}

// QueryTimestamps returns stored timestamps for symbol within [from, to].
func (s *SQLStore) QueryTimestamps(ctx context.Context, symbol string, from, to time.Time) ([]time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw []int64
	q := s.db.Rebind(`SELECT ts FROM bars WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts`)
	if err := s.db.SelectContext(ctx, &raw, q, symbol, from.Unix(), to.Unix()); err != nil {
		return nil, fmt.Errorf("querying timestamps for %s: %w", symbol, err)
	}

	out := make([]time.Time, len(raw))
	for i, ts := range raw {
		out[i] = time.Unix(ts, 0).UTC()
	}
	return out, nil
}

// CountAndRange returns the bar count and time span stored for symbol.
func (s *SQLStore) CountAndRange(ctx context.Context, symbol string) (BarRange, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row struct {
		Total    int64         `db:"total"`
		Earliest sql.NullInt64 `db:"earliest"`
		Latest   sql.NullInt64 `db:"latest"`
	}
	q := s.db.Rebind(`SELECT COUNT(*) AS total, MIN(ts) AS earliest, MAX(ts) AS latest FROM bars WHERE symbol = ?`)
	if err := s.db.GetContext(ctx, &row, q, symbol); err != nil {
		return BarRange{}, fmt.Errorf("counting bars for %s: %w", symbol, err)
	}

	br := BarRange{Total: row.Total}
	if row.Earliest.Valid {
		br.Earliest = time.Unix(row.Earliest.Int64, 0).UTC()
	}
	if row.Latest.Valid {
		br.Latest = time.Unix(row.Latest.Int64, 0).UTC()
	}
	return br, nil
}

// CountRange counts bars for symbol within [from, to).
func (s *SQLStore) CountRange(ctx context.Context, symbol string, from, to time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	q := s.db.Rebind(`SELECT COUNT(*) FROM bars WHERE symbol = ? AND ts >= ? AND ts < ?`)
	if err := s.db.GetContext(ctx, &n, q, symbol, from.Unix(), to.Unix()); err != nil {
		return 0, fmt.Errorf("counting bars for %s: %w", symbol, err)
	}
	return n, nil
}

// CountWhere counts bars of symbol matching p.
func (s *SQLStore) CountWhere(ctx context.Context, symbol string, p Predicate) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var q string
	switch p {
	case OHLCViolation:
		q = `SELECT COUNT(*) FROM bars WHERE symbol = ? AND ` + ohlcViolationCond
	case RegularSession:
		q = `SELECT COUNT(*) FROM bars WHERE symbol = ? AND session = 'regular'`
	case DuplicateKey:
		q = `SELECT COUNT(*) FROM (` + duplicateKeysSQL + `) dup`
	default:
		return 0, fmt.Errorf("unsupported predicate %d", p)
	}

	var n int64
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(q), symbol); err != nil {
		return 0, fmt.Errorf("counting %s bars for %s: %w", p, symbol, err)
	}
	return n, nil
}

// SampleWhere returns up to limit bars of symbol matching p, oldest first.
func (s *SQLStore) SampleWhere(ctx context.Context, symbol string, p Predicate, limit int) ([]domain.Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	base := `SELECT ` + barColumns + ` FROM bars WHERE symbol = ?`
	args := []any{symbol}
	switch p {
	case OHLCViolation:
		base += ` AND ` + ohlcViolationCond
	case RegularSession:
		base += ` AND session = 'regular'`
	case DuplicateKey:
		base += ` AND ts IN (` + duplicateKeysSQL + `)`
		args = append(args, symbol)
	default:
		return nil, fmt.Errorf("unsupported predicate %d", p)
	}
	args = append(args, limit)

	var rows []barRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(base+` ORDER BY ts LIMIT ?`), args...); err != nil {
		return nil, fmt.Errorf("sampling %s bars for %s: %w", p, symbol, err)
	}

	bars := make([]domain.Bar, len(rows))
	for i, r := range rows {
		bars[i] = r.toBar()
	}
	return bars, nil
}
