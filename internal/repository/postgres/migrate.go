package postgres

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"testing/fstest"
	"text/template"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded schema migrations for one table prefix
type Migrator struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewMigrator creates a migrator for the tables described by tables
func NewMigrator(pool *pgxpool.Pool, tables *TableNames, logger *slog.Logger) *Migrator {
	return &Migrator{pool: pool, tables: tables, logger: logger}
}

// Up applies all pending migrations
func (m *Migrator) Up(ctx context.Context) error {
	migrator, err := m.newMigrate()
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	m.logger.Info("database migrations applied", "version", version, "dirty", dirty, "prefix", m.tables.Prefix)
	return nil
}

// Down rolls back every migration
func (m *Migrator) Down(ctx context.Context) error {
	migrator, err := m.newMigrate()
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migrations: %w", err)
	}

	m.logger.Info("database migrations rolled back", "prefix", m.tables.Prefix)
	return nil
}

func (m *Migrator) newMigrate() (*migrate.Migrate, error) {
	source, err := RenderMigrations(m.tables.Prefix)
	if err != nil {
		return nil, err
	}

	sourceDriver, err := iofs.New(source, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	db := stdlib.OpenDBFromPool(m.pool)
	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{
		MigrationsTable: m.tables.Migrations,
	})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	migrator.LockTimeout = 30 * time.Second

	return migrator, nil
}

// RenderMigrations expands the table prefix into every embedded migration and
// returns them as an in-memory filesystem rooted like the embedded one.
func RenderMigrations(prefix string) (fs.FS, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	rendered := fstest.MapFS{}
	data := struct{ Prefix string }{Prefix: prefix}

	for _, entry := range entries {
		name := path.Join("migrations", entry.Name())
		raw, err := migrationFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		tmpl, err := template.New(entry.Name()).Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		rendered[name] = &fstest.MapFile{Data: buf.Bytes(), Mode: 0444}
	}

	return rendered, nil
}
