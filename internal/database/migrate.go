package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

func prepareGoose() error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect("mysql")
}

// MigrateUp applies all pending migrations embedded in the binary.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrationStatus describes one embedded migration and whether it has been
// applied to the connected database.
type MigrationStatus struct {
	Version int64
	Source  string
	Applied bool
}

// Status lists the embedded migrations alongside their applied state.
func Status(ctx context.Context, db *sql.DB) ([]MigrationStatus, error) {
	if err := prepareGoose(); err != nil {
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("collect migrations: %w", err)
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("db version: %w", err)
	}
	out := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, MigrationStatus{
			Version: m.Version,
			Source:  m.Source,
			Applied: m.Version <= current,
		})
	}
	return out, nil
}
