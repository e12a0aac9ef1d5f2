// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra    external connections (Redis when needed)
//  2. initServices response cache, metrics registry, call logger
//  3. initClient   the Gemini API client
//  4. initServer   relay routes
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/gemini-client/internal/cache"
	"github.com/nulpointcorp/gemini-client/internal/config"
	"github.com/nulpointcorp/gemini-client/internal/logger"
	"github.com/nulpointcorp/gemini-client/internal/metrics"
	"github.com/nulpointcorp/gemini-client/internal/server"
	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

const shutdownTimeout = 10 * time.Second

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections, nil when not configured.
	rdb *redis.Client

	callLogger *logger.Logger
	memCache   *cache.MemoryCache
	respCache  cache.Cache

	prom   *metrics.Registry
	client *gemini.Client
	srv    *server.Server

	closeOnce sync.Once
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("app: config must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"services", a.initServices},
		{"client", a.initClient},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Client returns the configured Gemini client.
func (a *App) Client() *gemini.Client { return a.client }

// Server returns the relay server.
func (a *App) Server() *server.Server { return a.srv }

// Run starts the relay server and blocks until ctx is cancelled or the
// server fails. It closes the app when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting relay",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("model", a.client.Model()),
		slog.String("cache_mode", a.cfg.Cache.Mode),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.ListenAndServe(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("relay shutdown error", slog.String("error", err.Error()))
		}
		a.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.callLogger != nil {
			if err := a.callLogger.Close(); err != nil {
				a.log.Error("call logger close error", slog.String("error", err.Error()))
			}
		}
		if a.memCache != nil {
			a.memCache.Close()
		}
		if a.rdb != nil {
			if err := a.rdb.Close(); err != nil {
				a.log.Error("redis close error", slog.String("error", err.Error()))
			}
		}
	})
}
