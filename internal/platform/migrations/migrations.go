// Package migrations embeds the PINNLO schema and applies it to Postgres.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Migration is one embedded up migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// List returns the embedded up migrations in version order.
func List() ([]Migration, error) {
	entries, err := fs.Glob(files, "sql/*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)

	out := make([]Migration, 0, len(entries))
	for _, path := range entries {
		base := strings.TrimSuffix(strings.TrimPrefix(path, "sql/"), ".up.sql")
		var version int
		var name string
		if i := strings.IndexByte(base, '_'); i > 0 {
			if _, err := fmt.Sscanf(base[:i], "%d", &version); err != nil {
				return nil, fmt.Errorf("migration %s: bad version: %w", path, err)
			}
			name = base[i+1:]
		} else {
			return nil, fmt.Errorf("migration %s: missing version prefix", path)
		}
		data, err := files.ReadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(data)})
	}
	return out, nil
}

// Apply executes every embedded up migration in order. The SQL is written to
// be idempotent, so Apply is safe to run against an already migrated database.
func Apply(ctx context.Context, db *sql.DB) error {
	list, err := List()
	if err != nil {
		return err
	}
	for _, m := range list {
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Migrator runs versioned migrations through golang-migrate.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator wraps db with a golang-migrate instance that tracks versions in
// the schema_migrations table.
func NewMigrator(db *sql.DB) (*Migrator, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations. No pending migrations is not an error.
func (mg *Migrator) Up() error {
	return ignoreNoChange(mg.m.Up())
}

// Down rolls back n migrations, or all of them when n <= 0.
func (mg *Migrator) Down(n int) error {
	if n <= 0 {
		return ignoreNoChange(mg.m.Down())
	}
	return ignoreNoChange(mg.m.Steps(-n))
}

// Version reports the applied version and whether the last run left it dirty.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Force sets the recorded version without running migrations.
func (mg *Migrator) Force(version int) error {
	return mg.m.Force(version)
}

// Close releases the migration source and database driver.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
