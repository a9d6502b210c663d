// Package app wires the doodle sync daemon runtime: config, logging, the
// snapshot store, the sync engine and the local control API the
// presentation layer talks to.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"doodle/cmd/internal/engine"
	"doodle/cmd/internal/feed"
	"doodle/cmd/internal/snapshot"
)

// App is the doodle runtime: it owns the sync engine, its snapshot store
// and the HTTP control server.
type App struct {
	cfg Config
	log Logger

	store snapshot.Store
	pool  *pgxpool.Pool

	engine   *engine.Controller
	registry *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, pool, err := newSnapshotStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	client := feed.NewClient(feed.Config{
		BaseURL: cfg.FeedURL,
		Token:   cfg.FeedToken,
		Timeout: cfg.FeedTimeout,
	}, nil)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng := engine.New(engine.Config{
		Author:       cfg.Author,
		PageSize:     cfg.PageSize,
		PollInterval: cfg.PollInterval,
	}, log, client, store, registry)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		pool:     pool,
		engine:   eng,
		registry: registry,
	}, nil
}

// newSnapshotStore picks the snapshot backend from config:
// DatabaseURL -> Postgres, SnapshotPath "memory" -> in-memory,
// otherwise a local pebble database.
func newSnapshotStore(ctx context.Context, cfg Config, log Logger) (snapshot.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := snapshot.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("snapshot.backend", "kind", "postgres")
		return store, pool, nil
	}

	if cfg.SnapshotPath == "memory" {
		log.Info("snapshot.backend", "kind", "memory")
		return snapshot.NewMemoryStore(), nil, nil
	}

	store, err := snapshot.OpenPebble(cfg.SnapshotPath)
	if err != nil {
		return nil, nil, err
	}
	log.Info("snapshot.backend", "kind", "pebble", "path", cfg.SnapshotPath)
	return store, nil, nil
}

// Run starts the engine and the control server, blocking until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = a.engine.Run(engineCtx)
	}()

	mux := http.NewServeMux()
	registerHTTP(mux, a.engine, a.registry)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "feed", a.cfg.FeedURL)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Stop the sync loop before closing its snapshot store.
	stopEngine()
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
	}

	if err := a.store.Close(); err != nil {
		a.log.Error("snapshot.close.fail", "err", err)
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}
