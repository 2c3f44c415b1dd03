package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var embeddedMigrations embed.FS

// RunMigrations applies pending migrations for driver. Files are read from
// migrationsDir/<dialect> when that directory exists, otherwise from the
// copies embedded in the binary.
func RunMigrations(db *sql.DB, driver, migrationsDir string) error {
	dialect, err := dialectDir(driver)
	if err != nil {
		return err
	}
	src, err := migrationSource(dialect, migrationsDir)
	if err != nil {
		return err
	}
	source, err := iofs.New(src, ".")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	var target database.Driver
	switch driver {
	case DriverSQLite:
		target, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case DriverPostgres:
		target, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, target)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func dialectDir(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite", nil
	case DriverPostgres:
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}

func migrationSource(dialect, dir string) (fs.FS, error) {
	if dir != "" {
		path := filepath.Join(dir, dialect)
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			return os.DirFS(path), nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read migrations: %w", err)
		}
	}
	sub, err := fs.Sub(embeddedMigrations, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	return sub, nil
}
