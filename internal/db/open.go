package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// sqliteParams are forced onto every SQLite DSN. Immediate transactions
// serialize writers so the submission recount cannot interleave.
var sqliteParams = map[string]string{
	"_foreign_keys": "on",
	"_busy_timeout": "5000",
	"_txlock":       "immediate",
	"_journal_mode": "WAL",
	"_synchronous":  "NORMAL",
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite:
		dsn = SQLiteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverPostgres {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// SQLiteDSN turns a path or file: URI into a DSN carrying the pragmas the
// store relies on. Parameters already present in dsn win.
func SQLiteDSN(dsn string) string {
	base, query, _ := strings.Cut(dsn, "?")
	if !strings.HasPrefix(base, "file:") {
		base = "file:" + base
	}
	vals, err := url.ParseQuery(query)
	if err != nil {
		vals = url.Values{}
	}
	for k, v := range sqliteParams {
		if vals.Get(k) == "" {
			vals.Set(k, v)
		}
	}
	return base + "?" + vals.Encode()
}
