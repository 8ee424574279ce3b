// Package sqlstore implements the store over database/sql for sqlite
// (modernc.org/sqlite) and Postgres (pgx stdlib). Queries are written once
// with '?' placeholders and rebound per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/example/sessionauth/internal/migrations"
	"github.com/example/sessionauth/internal/store"
)

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// DBTX is the subset of database/sql used by the queries. Both *sql.DB and
// *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type DB struct {
	db      *sql.DB
	conn    DBTX
	dialect Dialect
	now     func() time.Time
}

var _ store.Store = (*DB)(nil)

// New wraps an already opened handle. The schema is assumed to exist.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, conn: db, dialect: dialect, now: time.Now}
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// SQLite allows a single writer, so the pool is pinned to one connection.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	const op = "sqlstore.OpenSQLite"

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	scripts, err := migrations.UpScripts()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, q := range scripts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: applying schema: %w", op, err)
		}
	}
	return New(db, SQLite), nil
}

// OpenPostgres connects through pgx. Migrations are applied separately.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	const op = "sqlstore.OpenPostgres"

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return New(db, Postgres), nil
}

// WithTx begins a transaction, runs fn with a store bound to it, and commits
// on success or rolls back on error or panic. Panics are rethrown. Calling
// WithTx on a transaction-bound store joins the outer transaction.
func (s *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) (err error) {
	if s.db == nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore.WithTx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, &DB{conn: tx, dialect: s.dialect, now: s.now})
}

func (s *DB) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func (s *DB) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, s.rebind(query), args...)
}

func (s *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.rebind(query), args...)
}

func (s *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *DB) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar turns '?' placeholders into $1..$n. Queries in this package
// never contain literal question marks.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
