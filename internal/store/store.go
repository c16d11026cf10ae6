// Package store persists upcoming earnings events and their decision
// metrics in Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/seenimoa/earnvol/pkg/models"
)

// ErrNotFound is returned when no row exists for a ticker.
var ErrNotFound = errors.New("earnings row not found")

const schema = `
CREATE TABLE IF NOT EXISTS earnings (
	ticker          TEXT PRIMARY KEY,
	earnings_date   DATE NOT NULL,
	earnings_timing TEXT NOT NULL,
	expected_move   DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_volume      DOUBLE PRECISION NOT NULL,
	iv30_rv30       DOUBLE PRECISION NOT NULL,
	ts_slope        DOUBLE PRECISION NOT NULL,
	eps_estimate    DOUBLE PRECISION,
	rating          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS earnings_date_idx ON earnings (earnings_date);
`

const columns = `ticker, earnings_date, earnings_timing, expected_move, avg_volume,
	iv30_rv30, ts_slope, eps_estimate, rating`

// Store is a Postgres-backed earnings table.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database at url and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, errors.New("database url not configured")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the earnings table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate earnings: %w", err)
	}
	return nil
}

// List returns every stored row ordered by earnings date, then ticker.
func (s *Store) List(ctx context.Context) ([]models.EarningsRow, error) {
	rows := []models.EarningsRow{}
	q := `SELECT ` + columns + ` FROM earnings ORDER BY earnings_date, ticker`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list earnings: %w", err)
	}
	return rows, nil
}

// Get returns the row for ticker.
func (s *Store) Get(ctx context.Context, ticker string) (models.EarningsRow, error) {
	var row models.EarningsRow
	q := `SELECT ` + columns + ` FROM earnings WHERE ticker = $1`
	if err := s.db.GetContext(ctx, &row, q, ticker); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row, fmt.Errorf("%w: %s", ErrNotFound, ticker)
		}
		return row, fmt.Errorf("get earnings %s: %w", ticker, err)
	}
	return row, nil
}

// Upsert inserts row, or replaces the existing row for the same ticker.
// Metrics are rounded before they are written.
func (s *Store) Upsert(ctx context.Context, row models.EarningsRow) error {
	row = row.Rounded()
	q := `INSERT INTO earnings (` + columns + `)
		VALUES (:ticker, :earnings_date, :earnings_timing, :expected_move, :avg_volume,
			:iv30_rv30, :ts_slope, :eps_estimate, :rating)
		ON CONFLICT (ticker) DO UPDATE SET
			earnings_date   = EXCLUDED.earnings_date,
			earnings_timing = EXCLUDED.earnings_timing,
			expected_move   = EXCLUDED.expected_move,
			avg_volume      = EXCLUDED.avg_volume,
			iv30_rv30       = EXCLUDED.iv30_rv30,
			ts_slope        = EXCLUDED.ts_slope,
			eps_estimate    = EXCLUDED.eps_estimate,
			rating          = EXCLUDED.rating`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("upsert earnings %s: %w", row.Ticker, err)
	}
	return nil
}

// DeleteBefore removes rows whose earnings date is before day.
func (s *Store) DeleteBefore(ctx context.Context, day time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM earnings WHERE earnings_date < $1`, dateOnly(day))
	if err != nil {
		return 0, fmt.Errorf("delete past earnings: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTodayBeforeOpen removes day's before-market-open rows: once the
// market opens their trade window has passed.
func (s *Store) DeleteTodayBeforeOpen(ctx context.Context, day time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM earnings WHERE earnings_date = $1 AND earnings_timing = $2`,
		dateOnly(day), models.TimingBeforeOpen)
	if err != nil {
		return 0, fmt.Errorf("delete before-open earnings: %w", err)
	}
	return res.RowsAffected()
}

func dateOnly(t time.Time) string {
	return t.Format(models.DateLayout)
}
