// Command gemini runs a lightweight HTTP mock of the Gemini generative-language
// API. It is used for local development and E2E testing without a real key.
//
// Point the client at it with GEMINI_BASE_URL=http://localhost:19003/v1beta.
//
// Behaviour flags (via env):
//
//	PORT               listen port (default 19003)
//	MOCK_API_KEY       accepted key; any non-empty key when unset
//	MOCK_LATENCY_MS    artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE    fraction [0,1] of requests that return HTTP 500 (default 0)
//	MOCK_STREAM_CHUNKS elements in a streamGenerateContent array (default 3)
//	MOCK_WORDS         words per generated text (default 10)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

// Config holds runtime configuration for the mock.
type Config struct {
	APIKey       string
	LatencyMS    int
	ErrorRate    float64
	StreamChunks int
	Words        int
}

func loadConfig() Config {
	c := Config{StreamChunks: 3, Words: 10, APIKey: os.Getenv("MOCK_API_KEY")}

	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_STREAM_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StreamChunks = n
		}
	}
	if v := os.Getenv("MOCK_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Words = n
		}
	}
	return c
}

func portFromEnv(key string, defaultPort int) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return strconv.Itoa(defaultPort)
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	addr := ":" + portFromEnv("PORT", 19003)
	srv := &http.Server{
		Addr:         addr,
		Handler:      newHandler(cfg, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info("starting gemini mock",
		slog.String("addr", addr),
		slog.Int("latency_ms", cfg.LatencyMS),
		slog.Float64("error_rate", cfg.ErrorRate),
		slog.Int("stream_chunks", cfg.StreamChunks),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	fmt.Println("READY")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gemini mock")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
