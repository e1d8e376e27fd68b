package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStorage keeps all stores in a single SQLite database
type SQLiteStorage struct {
	path       string
	db         *sql.DB
	writeMutex sync.Mutex
}

func NewSQLite(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Init opens the database and creates the schema
func (s *SQLiteStorage) Init() error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	statements := []string{
		"PRAGMA journal_mode=WAL",
		"CREATE TABLE IF NOT EXISTS stores (name TEXT PRIMARY KEY)",
		"CREATE TABLE IF NOT EXISTS entries (store TEXT NOT NULL, key TEXT NOT NULL, bytes BLOB, PRIMARY KEY (store, key))",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to initialize sqlite schema: %w", err)
		}
	}

	s.db = db
	return nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (GenericCache, error) {
	if err := ValidateStoreName(name); err != nil {
		return nil, err
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO stores (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", name, err)
	}
	return &sqliteCache{storage: s, name: name}, nil
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE store = ?", name); err != nil {
		return false, fmt.Errorf("failed to delete entries of %s: %w", name, err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete store %s: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteCache struct {
	storage *SQLiteStorage
	name    string
}

func (c *sqliteCache) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.storage.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE store = ? AND key = ?", c.name, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set only writes while the store still exists
func (c *sqliteCache) Set(ctx context.Context, key string, value []byte) error {
	c.storage.writeMutex.Lock()
	defer c.storage.writeMutex.Unlock()

	_, err := c.storage.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (store, key, bytes)
		 SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM stores WHERE name = ?)`,
		c.name, key, value, c.name)
	return err
}
