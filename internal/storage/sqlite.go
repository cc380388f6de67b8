package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        BLOB PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
) WITHOUT ROWID;
`

// SQLiteConfig holds the parameters for opening a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file. Its parent directory must exist.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	Logger *slog.Logger
}

// SQLiteStore is a Store backed by a pool of SQLite connections in WAL mode.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenSQLite opens (creating if needed) the database at cfg.Path. The schema
// is created on every new connection.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", cfg.Path, err)
	}

	s := &SQLiteStore{pool: pool, logger: logger, path: cfg.Path}

	// Take one connection now so a bad path or schema fails at startup
	// instead of on the first sample.
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: opening %s: %w", cfg.Path, err)
	}
	pool.Put(conn)

	logger.Info("storage_opened",
		"path", cfg.Path,
		"pool_size", poolSize,
	)

	return s, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("storage: schema: %w", err)
	}
	return nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, key []byte, value string) (prev string, existed bool, err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return "", false, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return "", false, fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	prev, existed, err = getValue(conn, key)
	if err != nil {
		return "", false, err
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{key, value, time.Now().UnixNano()},
		})
	if err != nil {
		return "", false, fmt.Errorf("storage: put: %w", err)
	}

	return prev, existed, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key []byte) (string, bool, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return "", false, err
	}
	defer s.pool.Put(conn)

	return getValue(conn, key)
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key []byte) (prev string, existed bool, err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return "", false, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return "", false, fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	prev, existed, err = getValue(conn, key)
	if err != nil || !existed {
		return "", false, err
	}

	err = sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
	})
	if err != nil {
		return "", false, fmt.Errorf("storage: delete: %w", err)
	}

	return prev, true, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, prefix string, limit int) ([]Entry, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	lower := []byte(prefix)
	upper := prefixUpperBound(lower)

	query := "SELECT key, value FROM kv WHERE key >= ? ORDER BY key LIMIT ?"
	args := []any{lower, limit}
	if upper != nil {
		query = "SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key LIMIT ?"
		args = []any{lower, upper, limit}
	}

	var entries []Entry
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			keyBytes := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, keyBytes)
			entries = append(entries, Entry{
				Key:   string(keyBytes),
				Value: stmt.ColumnText(1),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}

	return entries, nil
}

// Close closes the pool. Blocks until borrowed connections are returned.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("storage_close_failed",
			"path", s.path,
			"error", err,
		)
		return fmt.Errorf("storage: closing %s: %w", s.path, err)
	}
	s.logger.Info("storage_closed", "path", s.path)
	return nil
}

func (s *SQLiteStore) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: take connection: %w", err)
	}
	return conn, nil
}

func getValue(conn *sqlite.Conn, key []byte) (value string, found bool, err error) {
	err = sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("storage: get: %w", err)
	}
	return value, found, nil
}
