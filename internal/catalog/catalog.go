// Package catalog records rendered treatment files in a SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/satindergrewal/tinnitone/internal/therapy"
)

// ErrNotFound is returned by Lookup when no asset matches.
var ErrNotFound = errors.New("asset not found")

// Asset is one rendered file.
type Asset struct {
	ID         int64            `json:"id"`
	RunID      string           `json:"run_id"`
	TinnitusHz float64          `json:"tinnitus_hz"`
	Severity   therapy.Severity `json:"severity"`
	Seed       uint64           `json:"seed"`
	SampleRate int              `json:"sample_rate"`
	Seconds    float64          `json:"seconds"`
	Path       string           `json:"path"`
	Bytes      int64            `json:"bytes"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Store wraps the SQLite catalog.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open creates or opens the catalog at path.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS assets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    tinnitus_hz REAL NOT NULL,
    severity TEXT NOT NULL,
    seed INTEGER NOT NULL,
    sample_rate INTEGER NOT NULL,
    seconds REAL NOT NULL,
    path TEXT NOT NULL,
    bytes INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE(tinnitus_hz, severity)
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init catalog schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a, replacing any earlier asset for the same frequency and
// severity.
func (s *Store) Record(ctx context.Context, a Asset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets(run_id, tinnitus_hz, severity, seed, sample_rate, seconds, path, bytes, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tinnitus_hz, severity) DO UPDATE SET
		   run_id=excluded.run_id, seed=excluded.seed, sample_rate=excluded.sample_rate,
		   seconds=excluded.seconds, path=excluded.path, bytes=excluded.bytes, created_at=excluded.created_at`,
		a.RunID, a.TinnitusHz, a.Severity.String(), int64(a.Seed), a.SampleRate, a.Seconds, a.Path, a.Bytes, a.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record asset: %w", err)
	}
	return nil
}

// Lookup returns the asset for a frequency and severity.
func (s *Store) Lookup(ctx context.Context, tinnitusHz float64, severity therapy.Severity) (Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, tinnitus_hz, severity, seed, sample_rate, seconds, path, bytes, created_at
		 FROM assets WHERE tinnitus_hz = ? AND severity = ?`,
		tinnitusHz, severity.String())
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, fmt.Errorf("%w: %.0f Hz %s", ErrNotFound, tinnitusHz, severity)
	}
	return a, err
}

// List returns every asset ordered by frequency, then severity.
func (s *Store) List(ctx context.Context) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, tinnitus_hz, severity, seed, sample_rate, seconds, path, bytes, created_at
		 FROM assets ORDER BY tinnitus_hz, id`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(sc scanner) (Asset, error) {
	var (
		a        Asset
		severity string
		seed     int64
		created  string
	)
	if err := sc.Scan(&a.ID, &a.RunID, &a.TinnitusHz, &severity, &seed, &a.SampleRate, &a.Seconds, &a.Path, &a.Bytes, &created); err != nil {
		return Asset{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		a.CreatedAt = ts
	}
	sev, err := therapy.ParseSeverity(severity)
	if err != nil {
		return Asset{}, fmt.Errorf("asset %d: %w", a.ID, err)
	}
	a.Severity = sev
	a.Seed = uint64(seed)
	return a, nil
}
