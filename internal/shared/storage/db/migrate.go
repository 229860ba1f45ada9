package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

var migrateCommands = map[string]func(ctx context.Context, db *sql.DB, dir string) error{
	"up": func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.UpContext(ctx, db, dir)
	},
	"down": func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.DownContext(ctx, db, dir)
	},
	"redo": func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.RedoContext(ctx, db, dir)
	},
	"status": func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.StatusContext(ctx, db, dir)
	},
	"version": func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.VersionContext(ctx, db, dir)
	},
}

// MigrateCommands lists the accepted Migrate commands.
func MigrateCommands() []string {
	names := make([]string, 0, len(migrateCommands))
	for name := range migrateCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunMigrations applies every pending documents migration. A nil database is a no-op.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	return Migrate(ctx, database, "up")
}

// Migrate runs a goose command against the embedded migrations. Unknown
// commands fail before touching the database.
func Migrate(ctx context.Context, database *sql.DB, command string) error {
	run, ok := migrateCommands[command]
	if !ok {
		return fmt.Errorf("unknown migrate command %q (want one of %v)", command, MigrateCommands())
	}
	if database == nil {
		return nil
	}
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := run(ctx, database, migrationsDir); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
