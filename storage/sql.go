package storage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"hostmon/collector"
	"hostmon/format"
	"hostmon/logger"
	"hostmon/sink"
)

// SQLStore opens a fresh connection for every call and releases it before
// returning. Writes are rare (one row per category per interval), so there
// is no pool to keep warm.
type SQLStore struct {
	driver  string
	dsn     string
	dialect format.Dialect
	timeout time.Duration
	log     *zap.Logger
}

// NewSQLStore validates driver and returns a store. No connection is made.
func NewSQLStore(driver, dsn string, timeout time.Duration, log *zap.Logger) (*SQLStore, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLStore{driver: driver, dsn: dsn, dialect: d, timeout: timeout, log: log}, nil
}

// Write inserts one row in its own transaction.
func (s *SQLStore) Write(ctx context.Context, st format.Statement) error {
	query := st.SQL(s.dialect)
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, st.Args...); err != nil {
			return &sink.PersistenceError{Sink: sink.Database, Op: "exec " + st.Table, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx, s.log).Debug("row inserted", zap.String("table", st.Table))
	return nil
}

// Migrate creates the four sample tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts, err := schema(s.driver)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return &sink.PersistenceError{Sink: sink.Database, Op: "migrate", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("schema migration applied", zap.String("driver", s.driver))
	return nil
}

// Count returns the number of rows in one of the sample tables.
func (s *SQLStore) Count(ctx context.Context, table string) (int64, error) {
	if !knownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return &sink.PersistenceError{Sink: sink.Database, Op: "count " + table, Err: err}
		}
		return nil
	})
	return n, err
}

// withTx opens a single connection, runs fn inside a transaction, commits
// and closes. The connection is released on every path.
func (s *SQLStore) withTx(ctx context.Context, fn func(context.Context, *sql.Tx) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return &sink.PersistenceError{Sink: sink.Database, Op: "open", Err: err}
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = &sink.PersistenceError{Sink: sink.Database, Op: "close", Err: cerr}
		}
	}()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return &sink.PersistenceError{Sink: sink.Database, Op: "connect", Err: err}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &sink.PersistenceError{Sink: sink.Database, Op: "begin", Err: err}
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &sink.PersistenceError{Sink: sink.Database, Op: "commit", Err: err}
	}
	return nil
}

func knownTable(table string) bool {
	return slices.ContainsFunc(collector.Categories(), func(c collector.Category) bool {
		return c.Table() == table
	})
}

func schema(driver string) ([]string, error) {
	var id, num, cnt string
	switch driver {
	case DriverSQLite:
		id, num, cnt = "id INTEGER PRIMARY KEY AUTOINCREMENT", "REAL", "INTEGER"
	case DriverPostgres:
		id, num, cnt = "id BIGSERIAL PRIMARY KEY", "DOUBLE PRECISION", "BIGINT"
	case DriverMySQL:
		id, num, cnt = "id BIGINT AUTO_INCREMENT PRIMARY KEY", "DOUBLE", "BIGINT UNSIGNED"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	created := "created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cpu_percent (%s, percent %s NOT NULL, %s)`, id, num, created),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS virtual_mem (%s, total %s NOT NULL, available %s NOT NULL, percent %s NOT NULL, used %s NOT NULL, free %s NOT NULL, %s)`,
			id, cnt, cnt, num, cnt, cnt, created),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS disk (%s, total %s NOT NULL, used %s NOT NULL, free %s NOT NULL, percent %s NOT NULL, %s)`,
			id, cnt, cnt, cnt, num, created),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS net_usage (%s, bytes_sent %s NOT NULL, bytes_recv %s NOT NULL, packets_sent %s NOT NULL, packets_recv %s NOT NULL, %s)`,
			id, cnt, cnt, cnt, cnt, created),
	}, nil
}
