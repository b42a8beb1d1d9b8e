package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteKV backs the CLI, where there is no Redis and the session is the
// local machine.
type SQLiteKV struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteKV(dbPath string) (*SQLiteKV, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Immediate transactions so two CLI processes cannot both read a free lease.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	s := &SQLiteKV{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteKV) runMigrations() error {
	schema := `
CREATE TABLE IF NOT EXISTS kv (
  key        TEXT PRIMARY KEY,
  value      BLOB NOT NULL,
  expires_at INTEGER            -- unix ms, NULL = never
);
CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteKV) Close() error { return s.db.Close() }

func (s *SQLiteKV) nowMs() int64 { return s.now().UnixMilli() }

func (s *SQLiteKV) expiresAt(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return s.now().Add(ttl).UnixMilli()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteKV) getLive(ctx context.Context, q querier, key string) ([]byte, sql.NullInt64, error) {
	var value []byte
	var exp sql.NullInt64
	err := q.QueryRowContext(ctx, `
SELECT value, expires_at FROM kv
WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`, key, s.nowMs()).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, exp, ErrNotFound
	}
	return value, exp, err
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	value, _, err := s.getLive(ctx, s.db, key)
	return value, err
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiresAt(ttl))
	return err
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *SQLiteKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT key FROM kv
WHERE substr(key, 1, ?) = ? AND (expires_at IS NULL OR expires_at > ?)
ORDER BY key ASC`, len(prefix), prefix, s.nowMs())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteKV) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, _, err := s.getLive(ctx, tx, name)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return false, err
	case string(cur) != owner:
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		name, []byte(owner), s.expiresAt(ttl)); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *SQLiteKV) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ? AND value = ?`, name, []byte(owner))
	return err
}

func (s *SQLiteKV) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	value, exp, err := s.getLive(ctx, tx, key)
	var count int64
	var expires any
	switch {
	case errors.Is(err, ErrNotFound):
		expires = s.expiresAt(window)
	case err != nil:
		return 0, 0, err
	default:
		count = decodeCount(value)
		if exp.Valid {
			expires = exp.Int64
		}
	}
	count++

	if _, err := tx.ExecContext(ctx, `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, encodeCount(count), expires); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	ttl := window
	if ms, ok := expires.(int64); ok {
		ttl = time.Duration(ms-s.nowMs()) * time.Millisecond
	}
	return count, ttl, nil
}

func encodeCount(n int64) []byte { return []byte(strconv.FormatInt(n, 10)) }

func decodeCount(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}
