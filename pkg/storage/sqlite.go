package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/levenlabs/go-lflag"
	_ "modernc.org/sqlite"

	"github.com/eirsights/eirsights/pkg/types"
)

// SQLiteProvider implements Database on an embedded SQLite file. Timestamps
// are stored as Unix seconds in UTC.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

// configuredSQLite sets up the SQLite provider. It registers flags for
// configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "eirsights.db", "Path to the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// NewSQLite opens a provider at the given path without going through flags.
func NewSQLite(ctx context.Context, path string) (*SQLiteProvider, error) {
	s := &SQLiteProvider{path: path}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database file and creates the schema.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteProvider) createSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fetch_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_fetch INTEGER NOT NULL,
			first_run_done INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS series_sums (
			series TEXT PRIMARY KEY,
			running_sum REAL NOT NULL,
			last_window_start INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS statistics (
			series TEXT NOT NULL,
			window_start INTEGER NOT NULL,
			period_sum REAL NOT NULL,
			mean REAL NOT NULL,
			running_sum REAL NOT NULL,
			PRIMARY KEY (series, window_start)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_statistics_window_start ON statistics(window_start)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// GetFetchState implements Database.
func (s *SQLiteProvider) GetFetchState(ctx context.Context) (types.FetchState, error) {
	var lastFetch int64
	var firstRunDone bool
	err := s.db.QueryRowContext(ctx,
		`SELECT last_fetch, first_run_done FROM fetch_state WHERE id = 1`,
	).Scan(&lastFetch, &firstRunDone)
	if errors.Is(err, sql.ErrNoRows) {
		return types.FetchState{}, nil
	}
	if err != nil {
		return types.FetchState{}, fmt.Errorf("failed to get fetch state: %w", err)
	}
	return types.FetchState{
		LastFetch:    time.Unix(lastFetch, 0).UTC(),
		FirstRunDone: firstRunDone,
	}, nil
}

// SetFetchState implements Database.
func (s *SQLiteProvider) SetFetchState(ctx context.Context, state types.FetchState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_state (id, last_fetch, first_run_done) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_fetch = excluded.last_fetch, first_run_done = excluded.first_run_done`,
		state.LastFetch.Unix(), state.FirstRunDone,
	)
	if err != nil {
		return fmt.Errorf("failed to set fetch state: %w", err)
	}
	return nil
}

// GetSeriesSum implements Database.
func (s *SQLiteProvider) GetSeriesSum(ctx context.Context, key types.SeriesKey) (*types.SeriesSum, error) {
	var sum float64
	var lastWindow int64
	err := s.db.QueryRowContext(ctx,
		`SELECT running_sum, last_window_start FROM series_sums WHERE series = ?`, key.ID(),
	).Scan(&sum, &lastWindow)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get series sum for %s: %w", key.ID(), err)
	}
	return &types.SeriesSum{
		RunningSum:      sum,
		LastWindowStart: time.Unix(lastWindow, 0).UTC(),
	}, nil
}

// SetSeriesSum implements Database.
func (s *SQLiteProvider) SetSeriesSum(ctx context.Context, key types.SeriesKey, sum types.SeriesSum) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO series_sums (series, running_sum, last_window_start) VALUES (?, ?, ?)
		 ON CONFLICT(series) DO UPDATE SET running_sum = excluded.running_sum, last_window_start = excluded.last_window_start`,
		key.ID(), sum.RunningSum, sum.LastWindowStart.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set series sum for %s: %w", key.ID(), err)
	}
	return nil
}

// UpsertStatistics implements Database.
func (s *SQLiteProvider) UpsertStatistics(ctx context.Context, key types.SeriesKey, records []types.StatisticRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin statistics tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO statistics (series, window_start, period_sum, mean, running_sum) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(series, window_start) DO UPDATE SET
			period_sum = excluded.period_sum,
			mean = excluded.mean,
			running_sum = excluded.running_sum`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare statistics upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, key.ID(), r.WindowStart.Unix(), r.PeriodSum, r.Mean, r.RunningSum); err != nil {
			return fmt.Errorf("failed to upsert statistics for %s: %w", key.ID(), err)
		}
	}
	return tx.Commit()
}

// GetStatistics implements Database.
func (s *SQLiteProvider) GetStatistics(ctx context.Context, key types.SeriesKey, start, end time.Time) ([]types.StatisticRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT window_start, period_sum, mean, running_sum FROM statistics
		 WHERE series = ? AND window_start >= ? AND window_start < ?
		 ORDER BY window_start ASC`,
		key.ID(), start.Unix(), end.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics for %s: %w", key.ID(), err)
	}
	defer rows.Close()

	var records []types.StatisticRecord
	for rows.Next() {
		var ws int64
		var r types.StatisticRecord
		if err := rows.Scan(&ws, &r.PeriodSum, &r.Mean, &r.RunningSum); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		r.WindowStart = time.Unix(ws, 0).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetLatestSampleTime implements Database.
func (s *SQLiteProvider) GetLatestSampleTime(ctx context.Context) (time.Time, error) {
	var ws sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(window_start) FROM statistics`).Scan(&ws)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest sample time: %w", err)
	}
	if !ws.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ws.Int64, 0).UTC(), nil
}

// Close implements Database.
func (s *SQLiteProvider) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
