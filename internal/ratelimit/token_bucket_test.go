package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "acme")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "acme")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "acme")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// Buckets are per tenant: another tenant is unaffected.
	allowed, _, _ = bucket.Allow(ctx, "globex")
	if !allowed {
		t.Fatalf("expected separate tenant to have its own bucket")
	}

	if !mr.Exists(tenantKeyPrefix + "acme") {
		t.Fatalf("bucket state not stored under the tenant namespace")
	}
}

func TestTokenBucketEmptyTenantFallsBack(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 1, 1, time.Minute)

	if allowed, _, err := bucket.Allow(context.Background(), ""); err != nil || !allowed {
		t.Fatalf("expected blank tenant to use the default bucket, allowed=%v err=%v", allowed, err)
	}
	if !mr.Exists(tenantKeyPrefix + "default") {
		t.Fatalf("blank tenant not mapped to the default bucket")
	}
}
