// Package cache stores raw Gemini response bodies between identical calls.
//
// Two backends are available:
//   - MemoryCache: in-process TTL map, for the CLI and single-replica relays.
//   - ExactCache: Redis, shared by every relay replica.
//
// Both degrade to a miss on failure, so a broken cache never changes what a
// gemini.Client returns.
package cache

import (
	"context"
	"time"

	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

// Cache is the backend contract. It extends gemini.ResponseCache with Delete.
type Cache interface {
	gemini.ResponseCache
	Delete(ctx context.Context, key string) error
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*ExactCache)(nil)
)

// Mode names accepted by config CACHE_MODE.
const (
	ModeNone   = "none"
	ModeMemory = "memory"
	ModeRedis  = "redis"
)

// DefaultTTL applies when a caller passes a non-positive ttl.
const DefaultTTL = time.Hour
