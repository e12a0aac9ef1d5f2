package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestCache starts a miniredis server and returns an ExactCache that owns
// its connection.
func newTestCache(t *testing.T) (*ExactCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	c, err := NewExactCacheFromURL(context.Background(), "redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("NewExactCacheFromURL: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestExactCache_GetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	data, ok := c.Get(context.Background(), "gemini:absent")
	if ok {
		t.Fatal("expected cache miss, got hit")
	}
	if data != nil {
		t.Fatalf("expected nil data on miss, got %v", data)
	}
}

func TestExactCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(t)

	key := "gemini:abc"
	want := []byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)

	if err := c.Set(context.Background(), key, want, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get(context.Background(), key)
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}
	if string(got) != string(want) {
		t.Fatalf("Get returned %q, want %q", got, want)
	}
}

func TestExactCache_TTLExpires(t *testing.T) {
	c, mr := newTestCache(t)

	key := "gemini:ttl"
	ttl := 10 * time.Second
	if err := c.Set(context.Background(), key, []byte(`{}`), ttl); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := c.Get(context.Background(), key); !ok {
		t.Fatal("key should exist before TTL expires")
	}

	mr.FastForward(ttl + time.Second)

	if _, ok := c.Get(context.Background(), key); ok {
		t.Fatal("key should have expired after TTL")
	}
}

func TestExactCache_NonPositiveTTLUsesDefault(t *testing.T) {
	c, mr := newTestCache(t)

	if err := c.Set(context.Background(), "gemini:default", []byte(`{}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := mr.TTL("gemini:default"); got != DefaultTTL {
		t.Fatalf("expected TTL %v, got %v", DefaultTTL, got)
	}
}

func TestExactCache_Delete(t *testing.T) {
	c, _ := newTestCache(t)

	key := "gemini:del"
	if err := c.Set(context.Background(), key, []byte(`{}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Delete(context.Background(), key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.Get(context.Background(), key); ok {
		t.Fatal("key should be gone after Delete")
	}
	if err := c.Delete(context.Background(), "gemini:ghost"); err != nil {
		t.Fatalf("Delete of missing key returned error: %v", err)
	}
}

// TestExactCache_DegradesWhenDown checks that an unreachable Redis turns into
// misses and silent sets rather than errors.
func TestExactCache_DegradesWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewExactCacheFromURL(context.Background(), "redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("NewExactCacheFromURL: %v", err)
	}
	defer func() { _ = c.Close() }()

	mr.Close()

	if data, ok := c.Get(context.Background(), "gemini:any"); ok || data != nil {
		t.Fatalf("expected miss when Redis is down, got %q/%v", data, ok)
	}
	if err := c.Set(context.Background(), "gemini:any", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set must return nil when Redis is down, got: %v", err)
	}
	if c.Ping(context.Background()) {
		t.Fatal("Ping should fail when Redis is down")
	}
}

func TestExactCache_FromClientNotClosed(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Dial(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = rdb.Close() }()

	c := NewExactCacheFromClient(rdb, nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("borrowed client should stay open, ping: %v", err)
	}
}

func TestDial_InvalidURL(t *testing.T) {
	if _, err := Dial(context.Background(), "not-a-valid-url"); err == nil {
		t.Fatal("expected error for invalid URL, got nil")
	}
}
