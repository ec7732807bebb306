package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// busyTimeoutMS bounds how long a writer waits on the database lock.
	busyTimeoutMS = 5000

	connectionTimeout = 5 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite keeps every record in one table of a local database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path in WAL mode.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, fmt.Errorf("creating state table: %w", err)
	}
	_ = os.Chmod(path, 0o600) //nolint:errcheck // file exists after the schema write

	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state %s: %w", key, err)
	}
	return data, nil
}

func (s *SQLite) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
