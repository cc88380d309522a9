package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io"

	"github.com/pressly/goose/v3"

	// Register pgx with database/sql for goose.
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations"

// Migrator applies the embedded SQL migrations with goose.
type Migrator struct {
	db *sql.DB
}

// OpenMigrator opens a database/sql handle for databaseURL.
func OpenMigrator(databaseURL string) (*Migrator, error) {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	return &Migrator{db: sqlDB}, nil
}

func (m *Migrator) Close() error { return m.db.Close() }

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := goose.Up(m.db, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down() error {
	if err := goose.Down(m.db, migrationsDir); err != nil {
		return fmt.Errorf("roll back migration: %w", err)
	}
	return nil
}

// Status prints applied and pending migrations to w.
func (m *Migrator) Status(w io.Writer) error {
	version, err := goose.GetDBVersion(m.db)
	if err != nil {
		return fmt.Errorf("get database version: %w", err)
	}
	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return fmt.Errorf("collect migrations: %w", err)
	}
	fmt.Fprintf(w, "database version: %d\n", version)
	for _, mig := range migrations {
		state := "pending"
		if mig.Version <= version {
			state = "applied"
		}
		fmt.Fprintf(w, "  %05d  %-8s %s\n", mig.Version, state, mig.Source)
	}
	return nil
}
