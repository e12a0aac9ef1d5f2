package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/nulpointcorp/gemini-client/internal/cache"
	"github.com/nulpointcorp/gemini-client/internal/logger"
	"github.com/nulpointcorp/gemini-client/internal/metrics"
	"github.com/nulpointcorp/gemini-client/internal/server"
	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode != cache.ModeRedis {
		return nil
	}

	a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

	rdb, err := cache.Dial(ctx, a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	a.log.Info("redis connected")

	return nil
}

// initServices creates the cache backend, the Prometheus registry and the
// async call logger.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case cache.ModeRedis:
		a.respCache = cache.NewExactCacheFromClient(a.rdb, a.log)
		a.log.Info("cache backend: redis")

	case cache.ModeMemory:
		a.memCache = cache.NewMemoryCache(ctx)
		a.respCache = a.memCache
		a.log.Info("cache backend: memory (in-process)")

	case cache.ModeNone:
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.prom = metrics.New()

	l, err := logger.New(a.baseCtx, a.log)
	if err != nil {
		return fmt.Errorf("call logger: %w", err)
	}
	a.callLogger = l

	return nil
}

// initClient builds the Gemini client with every configured recorder.
func (a *App) initClient(_ context.Context) error {
	recorders := []gemini.Recorder{a.prom, a.callLogger}

	opts := []gemini.Option{
		gemini.WithBaseURL(a.cfg.Gemini.BaseURL),
		gemini.WithModel(a.cfg.Gemini.Model),
		gemini.WithTimeout(a.cfg.Gemini.Timeout),
		gemini.WithLogger(a.log),
	}
	if a.respCache != nil {
		opts = append(opts, gemini.WithCache(a.respCache, a.cfg.Cache.TTL))
		recorders = append(recorders, a.prom.CacheRecorder())
	}
	opts = append(opts, gemini.WithRecorder(recorders...))

	a.client = gemini.New(a.cfg.Gemini.APIKey, opts...)
	a.prom.SetBuildInfo(a.version, a.client.Model())

	a.log.Info("gemini client ready",
		slog.String("model", a.client.Model()),
		slog.String("endpoint", a.client.Endpoint(gemini.MethodGenerateContent)),
	)

	return nil
}

// initServer builds the relay with the metrics endpoint mounted.
func (a *App) initServer(_ context.Context) error {
	a.srv = server.New(a.client, server.Options{
		Logger:         a.log,
		Metrics:        a.prom,
		MetricsHandler: a.prom.Handler(),
		CORSOrigins:    a.cfg.CORSOrigins,
	})
	return nil
}

// redactURL hides the userinfo of a URL for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User == nil {
		return raw
	}
	u.User = nil
	return strings.Replace(u.String(), "://", "://***@", 1)
}
