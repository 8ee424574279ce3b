// Package migrations owns the Postgres schema. The SQL files are embedded so
// the binaries do not depend on a migrations directory at runtime.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed sql/*.sql
var files embed.FS

var ErrDirty = errors.New("database is in a dirty migration state")

type Migrator struct {
	m *migrate.Migrate
}

// New connects to dsn and prepares a migrator over the embedded files.
func New(dsn string) (*Migrator, error) {
	const op = "migrations.New"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: opening database connection: %w", op, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: database ping failed: %w", op, err)
	}

	src, err := iofs.New(files, "sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: reading embedded migrations: %w", op, err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: creating migrate driver: %w", op, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: creating migrate instance: %w", op, err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations. An up-to-date schema is not an error.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (mg *Migrator) Down() error {
	if err := mg.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

// Steps moves n migrations forward, or backward when n is negative.
func (mg *Migrator) Steps(n int) error {
	if err := mg.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating %d steps: %w", n, err)
	}
	return nil
}

// Version reports the applied version. A fresh database reports 0.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (mg *Migrator) Force(version int) error {
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("forcing version: %w", err)
	}
	return nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Apply brings the schema at dsn up to date and refuses to touch a dirty
// database.
func Apply(dsn string, log *slog.Logger) error {
	const op = "migrations.Apply"

	mg, err := New(dsn)
	if err != nil {
		return err
	}
	defer mg.Close()

	before, dirty, err := mg.Version()
	if err != nil {
		return fmt.Errorf("%s: checking migration version: %w", op, err)
	}
	if dirty {
		return fmt.Errorf("%s: version %d: %w", op, before, ErrDirty)
	}

	if err := mg.Up(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	after, _, _ := mg.Version()
	if after != before {
		log.Info("schema migrated", slog.Uint64("from", uint64(before)), slog.Uint64("to", uint64(after)))
	} else {
		log.Info("schema is up to date", slog.Uint64("version", uint64(after)))
	}
	return nil
}

// UpScripts returns the embedded up migrations in version order. The SQL is
// kept portable so that the sqlite backend can apply it directly on open.
func UpScripts() ([]string, error) {
	names, err := fs.Glob(files, "sql/*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		b, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		scripts = append(scripts, string(b))
	}
	return scripts, nil
}
