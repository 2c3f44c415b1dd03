package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/candor/internal/config"
	"github.com/soaringjerry/candor/internal/db"
)

// openStore connects to the configured database and brings its schema up to
// date before handing out the store.
func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*db.Store, func(), error) {
	if cfg.DBDriver == db.DriverSQLite && !strings.HasPrefix(cfg.DBDSN, "file:") {
		if dir := filepath.Dir(cfg.DBDSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}
	sqlDB, err := db.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.WithError(cerr).Warn("failed to close database")
		}
	}
	if err := db.RunMigrations(sqlDB, cfg.DBDriver, cfg.MigrationsDir); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	store, err := db.NewStore(sqlDB, cfg.DBDriver, log.WithField("component", "store"))
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return store, closeDB, nil
}

// frontendHandler serves the feedback UI: static files when a directory is
// configured, otherwise a proxy to the dev server, otherwise nothing.
func frontendHandler(cfg *config.Config, log logrus.FieldLogger) (http.Handler, error) {
	if cfg.StaticDir != "" {
		return http.FileServer(http.Dir(cfg.StaticDir)), nil
	}
	if cfg.DevFrontendURL == "" {
		return nil, nil
	}
	u, err := url.Parse(cfg.DevFrontendURL)
	if err != nil {
		return nil, fmt.Errorf("parse dev frontend url: %w", err)
	}
	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ModifyResponse = func(res *http.Response) error {
		res.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		res.Header.Set("Pragma", "no-cache")
		res.Header.Set("Expires", "0")
		return nil
	}
	log.WithField("target", u.String()).Info("proxying frontend to dev server")
	return rp, nil
}
