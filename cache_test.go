package main

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", "v", 10*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("expected hit with %q, got (%q, %v, %v)", "v", val, ok, err)
	}

	now = now.Add(11 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry should have expired")
	}
}

func TestMemoryCacheZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	now = now.Add(1000 * time.Hour)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Error("zero-ttl entry should not expire")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("deleted key should miss")
	}
	// Deleting a missing key is not an error.
	if err := c.Delete(ctx, "absent"); err != nil {
		t.Errorf("deleting absent key: %v", err)
	}
}

func TestCacheKeyHelpers(t *testing.T) {
	if profileKey("u1") != "profile:u1" {
		t.Errorf("profileKey: %q", profileKey("u1"))
	}
	if llmContextKey("u1") != "llm_context:u1" {
		t.Errorf("llmContextKey: %q", llmContextKey("u1"))
	}
	if retrainKey("u1") != "retrain_needed:u1" {
		t.Errorf("retrainKey: %q", retrainKey("u1"))
	}
}
