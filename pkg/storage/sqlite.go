package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/adfharrison1/go-odm/pkg/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	cas   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS kv_seq (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	v  INTEGER NOT NULL
);
INSERT OR IGNORE INTO kv_seq (id, v) VALUES (1, 0);
`

// SQLiteStore keeps entries in one SQLite table. CAS tokens come from a
// sequence row bumped in the same transaction as the write.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens the database at path; ":memory:" keeps it in memory
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and
	// serializes writers without busy errors
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, domain.CAS, error) {
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, 0, err
	}
	var (
		value []byte
		cas   int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT value, cas FROM kv WHERE key = ?", key).Scan(&value, &cas)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, 0, unavailable("get", key, err)
	}
	return value, domain.CAS(cas), nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, opts domain.WriteOptions) (domain.CAS, error) {
	if err := checkContext(ctx, "set", key); err != nil {
		return 0, err
	}
	var next int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if next, err = nextSeq(ctx, tx); err != nil {
			return err
		}

		var res sql.Result
		switch {
		case opts.Insert:
			res, err = tx.ExecContext(ctx,
				"INSERT INTO kv (key, value, cas) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING",
				key, value, next)
		case opts.CAS != 0:
			res, err = tx.ExecContext(ctx,
				"UPDATE kv SET value = ?, cas = ? WHERE key = ? AND cas = ?",
				value, next, key, int64(opts.CAS))
		default:
			res, err = tx.ExecContext(ctx,
				"INSERT INTO kv (key, value, cas) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, cas = excluded.cas",
				key, value, next)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrCASMismatch
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("set", key, err)
	}
	return domain.CAS(next), nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string, opts domain.WriteOptions) error {
	if err := checkContext(ctx, "remove", key); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var cur int64
		err := tx.QueryRowContext(ctx, "SELECT cas FROM kv WHERE key = ?", key).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		if opts.CAS != 0 && domain.CAS(cur) != opts.CAS {
			return domain.ErrCASMismatch
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
		return err
	})
	return unavailable("remove", key, err)
}

// Keys lists the keys starting with prefix in byte order
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "keys", prefix); err != nil {
		return nil, err
	}
	query := "SELECT key FROM kv WHERE key >= ? ORDER BY key"
	args := []interface{}{prefix}
	if end := prefixUpperBound([]byte(prefix)); end != nil {
		query = "SELECT key FROM kv WHERE key >= ? AND key < ? ORDER BY key"
		args = append(args, string(end))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("keys", prefix, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("keys", prefix, err)
		}
		out = append(out, k)
	}
	return out, unavailable("keys", prefix, rows.Err())
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx, "UPDATE kv_seq SET v = v + 1 WHERE id = 1"); err != nil {
		return 0, err
	}
	var v int64
	err := tx.QueryRowContext(ctx, "SELECT v FROM kv_seq WHERE id = 1").Scan(&v)
	return v, err
}
