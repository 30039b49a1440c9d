// Package sqlite provides a SQLite-backed gateway for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/collapsinghierarchy/rewardgate/model"
	"github.com/collapsinghierarchy/rewardgate/store"
)

// Store persists secrets and claims in a SQLite file.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS secrets (
    hash TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS claims (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    roll       TEXT NOT NULL UNIQUE,
    email      TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
`

// Open opens the database at path and creates the tables if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AddSecret stores an accepted digest. Used to seed local databases.
func (s *Store) AddSecret(ctx context.Context, hash string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO secrets (hash) VALUES (?) ON CONFLICT(hash) DO NOTHING`, hash)
	if err != nil {
		return fmt.Errorf("add secret: %w", err)
	}
	return nil
}

func (s *Store) CountClaims(ctx context.Context) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims`).Scan(&n); err != nil {
		return 0, store.Transient("count claims", err)
	}
	return n, nil
}

func (s *Store) SecretExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM secrets WHERE hash = ?)`, hash).Scan(&exists)
	if err != nil {
		return false, store.Transient("lookup secret", err)
	}
	return exists, nil
}

func (s *Store) InsertClaim(ctx context.Context, c *model.Claim) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO claims (id, name, roll, email, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID.String(), c.Name, c.Roll, c.Email, c.CreatedAt.UTC().UnixMilli())
	if isRollUniqueViolation(err) {
		return store.ErrConflict
	}
	return store.Transient("insert claim", err)
}

func isRollUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	if !strings.Contains(message, "claims.roll") {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(message, "unique constraint failed")
}
