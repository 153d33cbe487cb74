package store

// Dialect names the SQL flavour a SQLStore speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Timestamps are stored as unix seconds so range scans behave the same on
// both dialects. Prices use NUMERIC so OHLC comparisons run in the database.
var schemas = map[Dialect][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS bars (
			symbol      TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        NUMERIC NOT NULL,
			high        NUMERIC NOT NULL,
			low         NUMERIC NOT NULL,
			close       NUMERIC NOT NULL,
			volume      INTEGER NOT NULL,
			vwap        NUMERIC,
			trade_count INTEGER,
			session     TEXT    NOT NULL,
			PRIMARY KEY (symbol, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS fetch_jobs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol        TEXT    NOT NULL,
			start_date    TEXT    NOT NULL,
			end_date      TEXT    NOT NULL,
			status        TEXT    NOT NULL,
			last_bar_time INTEGER,
			bars_loaded   INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			UNIQUE (symbol, start_date, end_date)
		)`,
		`CREATE INDEX IF NOT EXISTS fetch_jobs_status_idx ON fetch_jobs (status)`,
	},
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS bars (
			symbol      TEXT          NOT NULL,
			ts          BIGINT        NOT NULL,
			open        NUMERIC(18,6) NOT NULL,
			high        NUMERIC(18,6) NOT NULL,
			low         NUMERIC(18,6) NOT NULL,
			close       NUMERIC(18,6) NOT NULL,
			volume      BIGINT        NOT NULL,
			vwap        NUMERIC(18,6),
			trade_count BIGINT,
			session     TEXT          NOT NULL,
			PRIMARY KEY (symbol, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS fetch_jobs (
			id            BIGSERIAL PRIMARY KEY,
			symbol        TEXT   NOT NULL,
			start_date    TEXT   NOT NULL,
			end_date      TEXT   NOT NULL,
			status        TEXT   NOT NULL,
			last_bar_time BIGINT,
			bars_loaded   BIGINT NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at    BIGINT NOT NULL,
			updated_at    BIGINT NOT NULL,
			UNIQUE (symbol, start_date, end_date)
		)`,
		`CREATE INDEX IF NOT EXISTS fetch_jobs_status_idx ON fetch_jobs (status)`,
	},
}

const barColumns = `symbol, ts, open, high, low, close, volume, vwap, trade_count, session`

const upsertBarSQL = `
	INSERT INTO bars (` + barColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, ts) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume,
		vwap = excluded.vwap,
		trade_count = excluded.trade_count,
		session = excluded.session`

const ohlcViolationCond = `(high < open OR high < close OR low > open OR low > close)`

const duplicateKeysSQL = `SELECT ts FROM bars WHERE symbol = ? GROUP BY ts HAVING COUNT(*) > 1`

const jobColumns = `id, symbol, start_date, end_date, status, last_bar_time, bars_loaded, error_message, created_at, updated_at`
