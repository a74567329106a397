package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestProbeRunnerReportsEachChecker(t *testing.T) {
	runner := NewProbeRunner(time.Second, 0,
		CheckerFunc{Name: "ok", Fn: func(context.Context) error { return nil }},
		CheckerFunc{Name: "down", Fn: func(context.Context) error { return errors.New("boom") }},
	)
	ready, results := runner.Ready(context.Background())
	if ready {
		t.Fatal("expected not ready when one checker fails")
	}
	if len(results) != 2 || !results[0].Healthy || results[1].Healthy || results[1].Error != "boom" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestProbeRunnerAppliesTimeout(t *testing.T) {
	runner := NewProbeRunner(20*time.Millisecond, 0, CheckerFunc{Name: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ready, results := runner.Ready(context.Background())
	if ready || results[0].Healthy {
		t.Fatalf("expected slow checker to time out, got %+v", results)
	}
}

func TestProbeRunnerCachesResults(t *testing.T) {
	var calls atomic.Int32
	runner := NewProbeRunner(time.Second, time.Minute, CheckerFunc{Name: "counted", Fn: func(context.Context) error {
		calls.Add(1)
		return nil
	}})
	for i := 0; i < 3; i++ {
		if ready, _ := runner.Ready(context.Background()); !ready {
			t.Fatal("expected ready")
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected cached result reuse, checker called %d times", calls.Load())
	}
}

func TestRedisChecker(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if res := NewRedisChecker(client).Check(context.Background()); !res.Healthy {
		t.Fatalf("expected healthy redis, got %+v", res)
	}
	server.Close()
	if res := NewRedisChecker(client).Check(context.Background()); res.Healthy {
		t.Fatal("expected unhealthy redis after shutdown")
	}
}

func TestDBCheckerWithoutDatabase(t *testing.T) {
	if res := NewDBChecker(nil).Check(context.Background()); res.Healthy || res.Name != "db" {
		t.Fatalf("expected unhealthy db result, got %+v", res)
	}
}
