package history

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite" // SQLite driver
)

// DBFileName is the database file created inside the history directory.
const DBFileName = "history.db"

// Run is one completed conversion.
type Run struct {
	ID        int64
	Digest    string // blake2b-256 of the input EPUB, hex encoded
	Source    string // file name or upload name
	Title     string
	Author    string
	TotalBits int
	Images    int
	Warnings  int
	CreatedAt time.Time
}

// Store records completed runs in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, DBFileName)+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite allows a single writer; concurrent HTTP runs queue on this connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		digest TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		total_bits INTEGER NOT NULL,
		images INTEGER NOT NULL,
		warnings INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_digest ON runs(digest);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`)
	return err
}

// Digest returns the hex blake2b-256 digest of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Record inserts run and returns its id. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO runs (digest, source, title, author, total_bits, images, warnings, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Digest, run.Source, run.Title, run.Author, run.TotalBits, run.Images, run.Warnings, run.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, digest, source, title, author, total_bits, images, warnings, created_at
	FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Digest, &r.Source, &r.Title, &r.Author, &r.TotalBits, &r.Images, &r.Warnings, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FindByDigest returns the runs of the book with the given digest, newest first.
func (s *Store) FindByDigest(ctx context.Context, digest string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, digest, source, title, author, total_bits, images, warnings, created_at
	FROM runs WHERE digest = ? ORDER BY created_at DESC, id DESC`, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Digest, &r.Source, &r.Title, &r.Author, &r.TotalBits, &r.Images, &r.Warnings, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
