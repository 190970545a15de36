package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"contractflow/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port, DB: db}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Raw().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSetGetTTL(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "contract:1:abc", []byte(`{"id":1}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "contract:1:abc")
	if err != nil || string(got) != `{"id":1}` {
		t.Fatalf("Get = %q, %v", got, err)
	}
	ttl, err := c.TTL(ctx, "contract:1:abc")
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v err %v", ttl, err)
	}
	if _, err := c.Get(ctx, "contract:404:abc"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestDelPrefix(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	for _, k := range []string{"contract:7:a", "contract:7:b", "contract:70:a"} {
		if err := c.Set(ctx, k, []byte("x"), time.Minute); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if err := c.DelPrefix(ctx, "contract:7:"); err != nil {
		t.Fatalf("DelPrefix: %v", err)
	}
	for _, k := range []string{"contract:7:a", "contract:7:b"} {
		if _, err := c.Get(ctx, k); !errors.Is(err, ErrCacheMiss) {
			t.Fatalf("%s should be gone, err=%v", k, err)
		}
	}
	if _, err := c.Get(ctx, "contract:70:a"); err != nil {
		t.Fatalf("unrelated key removed: %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
	if err := c.Set(context.Background(), "k", nil, time.Second); err == nil {
		t.Fatalf("expected error from nil client")
	}
}
