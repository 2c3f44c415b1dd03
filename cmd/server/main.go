package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/candor/internal/api"
	"github.com/soaringjerry/candor/internal/config"
	"github.com/soaringjerry/candor/internal/logging"
	"github.com/soaringjerry/candor/internal/metrics"
	"github.com/soaringjerry/candor/internal/middleware"
	"github.com/soaringjerry/candor/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	store, closeDB, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	creds, err := services.NewCredentialService(cfg.CredentialSecret, cfg.CredentialTTL)
	if err != nil {
		return err
	}
	var cache services.SessionCache = services.NopSessionCache{}
	if cfg.SessionCacheSize > 0 {
		cache = services.NewLRUSessionCache(cfg.SessionCacheSize, cfg.SessionCacheTTL)
	}
	m := metrics.New()

	pools := services.NewPoolService(store, creds, cache, services.PoolConfig{
		Size:     cfg.PoolSize,
		LinkBase: cfg.PublicLinkBase,
		Logger:   log.WithField("component", "pools"),
	})
	frontend, err := frontendHandler(cfg, log)
	if err != nil {
		return err
	}
	handler := api.NewRouter(api.Deps{
		Pools:       pools,
		Submissions: services.NewSubmissionService(store, creds, cache, log.WithField("component", "submissions")),
		Analytics:   services.NewAnalyticsService(store),
		Surveys:     services.NewSurveyService(store),
		AdminAuth:   middleware.NewAdminAuth(cfg.AdminJWTSecret),
		Metrics:     m,
		Logger:      log,
		CORSOrigins: cfg.CORSOrigins,
		Frontend:    frontend,
		Commit:      cfg.Commit,
		BuildTime:   cfg.BuildTime,
	})

	if cfg.SweepInterval > 0 {
		go sweep(ctx, pools, m, cfg.SweepInterval, log)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "pool_size": cfg.PoolSize, "db_driver": cfg.DBDriver}).Info("candor server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweep expires overdue pools on a fixed interval until ctx is cancelled.
func sweep(ctx context.Context, pools *services.PoolService, m *metrics.Metrics, every time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pools.SweepExpired(ctx)
			if err != nil {
				log.WithError(err).Warn("expiry sweep failed")
				continue
			}
			m.PoolsSwept(n)
		}
	}
}
