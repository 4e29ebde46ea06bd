// Package migrate runs the embedded goose migrations for the SQL engines.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/itemvault/itemvault/assets"
)

func dialectAndDir(engine string) (goose.Dialect, string, error) {
	switch engine {
	case "sqlite":
		return goose.DialectSQLite3, assets.SqliteMigrationDir, nil
	case "postgres":
		return goose.DialectPostgres, assets.PostgresMigrationDir, nil
	default:
		return "", "", fmt.Errorf("unable to run migrations for datastore engine type: %s", engine)
	}
}

// RunMigrations migrates the database up to the latest revision.
func RunMigrations(db *sql.DB, engine string) error {
	return RunMigrationsUpTo(db, engine, 0)
}

// RunMigrationsUpTo migrates the database up to the given revision, or to the
// latest revision when version is zero.
func RunMigrationsUpTo(db *sql.DB, engine string, version int64) error {
	dialect, dir, err := dialectAndDir(engine)
	if err != nil {
		return err
	}

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(assets.EmbedMigrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	if version > 0 {
		return goose.UpTo(db, dir, version)
	}
	return goose.Up(db, dir)
}

// CurrentVersion reports the migration revision the database is at. An
// unmigrated database reports revision zero.
func CurrentVersion(ctx context.Context, db *sql.DB, engine string) (int64, error) {
	dialect, _, err := dialectAndDir(engine)
	if err != nil {
		return 0, err
	}

	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(dialect)); err != nil {
		return 0, fmt.Errorf("set migration dialect: %w", err)
	}

	return goose.GetDBVersionContext(ctx, db)
}
