package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not a url"); err == nil {
		t.Fatal("expected NewRedisStore() to fail for a malformed url")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	header := http.Header{}
	header.Set("ETag", `"4"`)
	want := Response{Status: http.StatusCreated, Header: header, Body: []byte(`{"id":"col_1"}`)}
	if err := store.Put(ctx, "k1", want, time.Hour); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.Status != want.Status || string(got.Body) != string(want.Body) || got.Header.Get("ETag") != `"4"` {
		t.Fatalf("Get() = %+v", got)
	}
	if got.StoredAt.IsZero() {
		t.Fatal("Put() did not stamp StoredAt")
	}
}

func TestRedisStoreFirstWriteWins(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Put(ctx, "k1", Response{Status: 201, Body: []byte("first")}, time.Hour); err != nil {
		t.Fatalf("Put(first) error = %v", err)
	}
	if err := store.Put(ctx, "k1", Response{Status: 201, Body: []byte("second")}, time.Hour); err != nil {
		t.Fatalf("Put(second) error = %v", err)
	}
	got, _, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Body) != "first" {
		t.Fatalf("Get() body = %q, want first", got.Body)
	}
}

func TestRedisStoreExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Put(ctx, "k1", Response{Status: 200}, time.Minute); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, ok, err := store.Get(ctx, "k1"); err != nil || ok {
		t.Fatalf("Get() after expiry = %v, %v", ok, err)
	}
}

func TestRedisStoreMiss(t *testing.T) {
	store, _ := setupTestRedis(t)
	if _, ok, err := store.Get(context.Background(), "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
}
