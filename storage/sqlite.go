package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/glebarez/sqlite"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
    key BLOB PRIMARY KEY,
    value BLOB NOT NULL
);
`

// SQLiteDB exposes a sqlite table as a key-value Database.
type SQLiteDB struct {
	db    *sql.DB
	owned bool
}

// OpenSQLite opens a sqlite database from a DSN and prepares the kv table.
func OpenSQLite(dsn string) (*SQLiteDB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("sqlite dsn required")
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	kv, err := NewSQLiteDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	kv.owned = true
	return kv, nil
}

// NewSQLiteDB shares an existing connection pool. Close is a no-op for shared
// handles; the owner remains responsible for closing db.
func NewSQLiteDB(db *sql.DB) (*SQLiteDB, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite handle required")
	}
	if _, err := db.Exec(kvSchema); err != nil {
		return nil, fmt.Errorf("apply kv schema: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Put(key []byte, value []byte) error {
	_, err := s.db.Exec(`
        INSERT INTO kv(key, value) VALUES(?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value
    `, key, value)
	if err != nil {
		return fmt.Errorf("put kv: %w", err)
	}
	return nil
}

func (s *SQLiteDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

func (s *SQLiteDB) Delete(key []byte) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete kv: %w", err)
	}
	return nil
}

// WriteBatch applies the mutations in a single sql transaction.
func (s *SQLiteDB) WriteBatch(ops []Op) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("begin kv batch: %w", err)
	}
	for _, op := range ops {
		if op.Delete {
			_, err = tx.Exec(`DELETE FROM kv WHERE key = ?`, op.Key)
		} else {
			_, err = tx.Exec(`
                INSERT INTO kv(key, value) VALUES(?, ?)
                ON CONFLICT(key) DO UPDATE SET value = excluded.value
            `, op.Key, op.Value)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply kv batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit kv batch: %w", err)
	}
	return nil
}

func (s *SQLiteDB) Close() {
	if s.owned {
		s.db.Close()
	}
}
