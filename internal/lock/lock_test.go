package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	logx "jobbot/pkg/logx"
)

func TestLocalAlwaysAcquires(t *testing.T) {
	var l Locker = Local{}
	for i := 0; i < 3; i++ {
		lease, err := l.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := lease.Release(context.Background()); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
}

func TestNewRedisBadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not-a-url", "k", time.Second, logx.Nop()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewRedis(ctx, "redis://127.0.0.1:1/0", "k", time.Second, logx.Nop()); err == nil {
		t.Fatal("expected ping error")
	}
}

// Needs a live server: JOBBOT_TEST_REDIS_URL=redis://localhost:6379/15
func TestRedisExclusive(t *testing.T) {
	url := os.Getenv("JOBBOT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("JOBBOT_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	key := "jobbot:test:" + uuid.NewString()
	a, err := NewRedis(ctx, url, key, 5*time.Second, logx.Nop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer a.Close()
	b, err := NewRedis(ctx, url, key, 5*time.Second, logx.Nop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer b.Close()

	lease, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := b.Acquire(ctx); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second Acquire err = %v, want ErrNotAcquired", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("double Release: %v", err)
	}
	lease2, err := b.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = lease2.Release(ctx)
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	url := os.Getenv("JOBBOT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("JOBBOT_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	key := "jobbot:test:" + uuid.NewString()
	r, err := NewRedis(ctx, url, key, 5*time.Second, logx.Nop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	lease, err := r.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// simulate expiry and takeover
	if err := r.client.Set(ctx, key, "someone-else", 5*time.Second).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if v, _ := r.client.Get(ctx, key).Result(); v != "someone-else" {
		t.Fatalf("foreign lock deleted, value = %q", v)
	}
	r.client.Del(ctx, key)
}
