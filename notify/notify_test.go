package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/event/v3/health"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// captureNotifier records delivered notifications.
type captureNotifier struct {
	mu   sync.Mutex
	sent []Notification
	fail error
}

func (c *captureNotifier) Notify(ctx context.Context, actorID string, n Notification) error {
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	if err := n.Notify(context.Background(), "actor-1", Notification{Kind: "mission_completed", Title: "Done"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
}

func TestRedisNotifierPublishes(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	n := NewRedisNotifier(client)
	err := n.Notify(context.Background(), "actor-1", Notification{Kind: "mission_completed", Title: "Done", XP: 100})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
}

func TestLimitedNotifierDropsOverBudget(t *testing.T) {
	ctx := context.Background()
	sink := &captureNotifier{}
	// Zero refill rate: exactly burst sends succeed.
	limited := NewLimitedNotifier(sink, 0, 2, nil)

	for i := 0; i < 2; i++ {
		if err := limited.Notify(ctx, "actor-1", Notification{Kind: "k"}); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	err := limited.Notify(ctx, "actor-1", Notification{Kind: "k"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if sink.count() != 2 {
		t.Errorf("expected 2 delivered, got %d", sink.count())
	}
}

func TestLimitedNotifierPassesThroughErrors(t *testing.T) {
	ctx := context.Background()
	downstream := errors.New("push service down")
	sink := &captureNotifier{fail: downstream}
	limited := NewLimitedNotifier(sink, rate.Limit(100), 10, nil)

	if err := limited.Notify(ctx, "actor-1", Notification{Kind: "k"}); !errors.Is(err, downstream) {
		t.Fatalf("expected downstream error, got %v", err)
	}
}

func TestLimitedNotifierHealth(t *testing.T) {
	ctx := context.Background()
	sink := &captureNotifier{}

	t.Run("healthy with full budget", func(t *testing.T) {
		limited := NewLimitedNotifier(sink, rate.Limit(10), 100, nil)
		res := limited.Health(ctx)
		if res.Status != health.StatusHealthy {
			t.Errorf("expected healthy, got %s", res.Status)
		}
	})

	t.Run("degraded when budget exhausted", func(t *testing.T) {
		limited := NewLimitedNotifier(sink, 0, 5, nil)
		for i := 0; i < 5; i++ {
			limited.Notify(ctx, "actor-1", Notification{Kind: "k"})
		}
		res := limited.Health(ctx)
		if res.Status != health.StatusDegraded {
			t.Errorf("expected degraded, got %s", res.Status)
		}
	})
}
