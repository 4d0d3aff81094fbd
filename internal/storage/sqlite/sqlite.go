package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pressureflow/internal/storage"
	"pressureflow/logger"
	"pressureflow/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed storage.PressureStore. It holds a single
// connection; the collector is the only writer.
type Store struct {
	db   *sql.DB
	path string
	log  *logger.Log
}

var _ storage.PressureStore = (*Store)(nil)

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", storage.ErrStorage, path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", storage.ErrStorage, path, err)
	}

	return &Store{db: db, path: path, log: logger.GetLogger()}, nil
}

func dsn(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// EnsureSchema applies the embedded migrations in lexical order. Every
// migration is written to be re-runnable.
func (s *Store) EnsureSchema(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: read embedded migrations: %v", storage.ErrStorage, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("%w: read migration %s: %v", storage.ErrStorage, file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("%w: apply migration %s: %v", storage.ErrStorage, file, err)
		}
	}

	s.log.WithComponent("sqlite").WithFields(logger.Fields{
		"path":       s.path,
		"migrations": len(files),
	}).Debug("schema ensured")
	return nil
}

func (s *Store) WritePressureRecord(ctx context.Context, rec models.PressureRecord) error {
	if err := storage.ValidateRecord(rec); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO market_pressure (time, symbol, bid_volume, ask_volume, imbalance) VALUES (?, ?, ?, ?, ?)`,
		storage.FormatTime(rec.Time), strings.ToUpper(rec.Symbol), rec.BidVolume, rec.AskVolume, rec.Imbalance,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s at %s", storage.ErrDuplicateKey, rec.Symbol, storage.FormatTime(rec.Time))
		}
		return fmt.Errorf("%w: insert pressure record %s: %v", storage.ErrStorage, rec.Symbol, err)
	}
	return nil
}

func (s *Store) WriteMarketSummary(ctx context.Context, sum models.MarketSummary) error {
	if err := storage.ValidateSummary(sum); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO market_summary (time, total_bid_volume, total_ask_volume, total_imbalance) VALUES (?, ?, ?, ?)`,
		storage.FormatTime(sum.Time), sum.TotalBidVolume, sum.TotalAskVolume, sum.TotalImbalance,
	)
	if err != nil {
		return fmt.Errorf("%w: insert market summary: %v", storage.ErrStorage, err)
	}
	return nil
}

func (s *Store) LatestSummary(ctx context.Context) (models.MarketSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT time, total_bid_volume, total_ask_volume, total_imbalance
		 FROM market_summary ORDER BY time DESC, rowid DESC LIMIT 1`)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MarketSummary{}, storage.ErrNotFound
	}
	if err != nil {
		return models.MarketSummary{}, fmt.Errorf("%w: latest summary: %v", storage.ErrStorage, err)
	}
	return sum, nil
}

func (s *Store) LatestRecord(ctx context.Context, symbol string) (models.PressureRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT time, symbol, bid_volume, ask_volume, imbalance
		 FROM market_pressure WHERE symbol = ? ORDER BY time DESC LIMIT 1`,
		strings.ToUpper(symbol))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PressureRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return models.PressureRecord{}, fmt.Errorf("%w: latest record %s: %v", storage.ErrStorage, symbol, err)
	}
	return rec, nil
}

func (s *Store) SummaryHistory(ctx context.Context, from, to time.Time) ([]models.MarketSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, total_bid_volume, total_ask_volume, total_imbalance
		 FROM market_summary WHERE time >= ? AND time <= ? ORDER BY time ASC, rowid ASC`,
		storage.FormatTime(from), storage.FormatTime(to))
	if err != nil {
		return nil, fmt.Errorf("%w: summary history: %v", storage.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]models.MarketSummary, 0)
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan summary: %v", storage.ErrStorage, err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: summary history: %v", storage.ErrStorage, err)
	}
	return out, nil
}

func (s *Store) RecordHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.PressureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, symbol, bid_volume, ask_volume, imbalance
		 FROM market_pressure WHERE symbol = ? AND time >= ? AND time <= ? ORDER BY time ASC`,
		strings.ToUpper(symbol), storage.FormatTime(from), storage.FormatTime(to))
	if err != nil {
		return nil, fmt.Errorf("%w: record history %s: %v", storage.ErrStorage, symbol, err)
	}
	defer rows.Close()

	out := make([]models.PressureRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", storage.ErrStorage, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: record history %s: %v", storage.ErrStorage, symbol, err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (models.MarketSummary, error) {
	var (
		ts  string
		sum models.MarketSummary
	)
	if err := row.Scan(&ts, &sum.TotalBidVolume, &sum.TotalAskVolume, &sum.TotalImbalance); err != nil {
		return models.MarketSummary{}, err
	}
	t, err := storage.ParseTime(ts)
	if err != nil {
		return models.MarketSummary{}, fmt.Errorf("parse time %q: %w", ts, err)
	}
	sum.Time = t
	return sum, nil
}

func scanRecord(row scanner) (models.PressureRecord, error) {
	var (
		ts  string
		rec models.PressureRecord
	)
	if err := row.Scan(&ts, &rec.Symbol, &rec.BidVolume, &rec.AskVolume, &rec.Imbalance); err != nil {
		return models.PressureRecord{}, err
	}
	t, err := storage.ParseTime(ts)
	if err != nil {
		return models.PressureRecord{}, fmt.Errorf("parse time %q: %w", ts, err)
	}
	rec.Time = t
	return rec, nil
}

// isDuplicateKeyError checks for a primary key or unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var sqliteErr *sqlitedrv.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
