package integration

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/session-security-engine/internal/http/middleware"
)

func TestConcurrentRefreshSingleWinnerOnRedisStore(t *testing.T) {
	s := newEngineServer(t, serverOptions{redisSessions: true})
	pair := s.register(t, "race@example.com")

	const workers = 8
	var (
		wg       sync.WaitGroup
		winners  atomic.Int64
		rejected atomic.Int64
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, _ := s.refresh(t, pair.RefreshToken)
			switch resp.StatusCode {
			case http.StatusOK:
				winners.Add(1)
			case http.StatusUnauthorized:
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one refresh winner, got %d (rejected %d)", winners.Load(), rejected.Load())
	}
	if rejected.Load() != workers-1 {
		t.Fatalf("expected %d rejections, got %d", workers-1, rejected.Load())
	}
}

func TestReplayOnRedisStoreRevokesEverySession(t *testing.T) {
	s := newEngineServer(t, serverOptions{redisSessions: true})
	original := s.register(t, "replay@example.com")
	second := s.login(t, "replay@example.com").Tokens

	resp, env := s.refresh(t, original.RefreshToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first refresh: %d %+v", resp.StatusCode, env.Error)
	}
	rotated := decodeData[tokenPair](t, env)

	resp, env = s.refresh(t, original.RefreshToken)
	requireErrorCode(t, resp, env, http.StatusUnauthorized, "INVALID_TOKEN")

	for _, token := range []string{rotated.RefreshToken, second.RefreshToken} {
		resp, env = s.refresh(t, token)
		requireErrorCode(t, resp, env, http.StatusUnauthorized, "INVALID_TOKEN")
	}
}

func TestRedisRateLimiterConcurrentBurstHonorsLimit(t *testing.T) {
	s := newEngineServer(t, serverOptions{})
	client := redis.NewClient(&redis.Options{Addr: s.redis.Addr()})
	defer func() { _ = client.Close() }()

	limiter := middleware.NewRedisLimiter(client, "itest:rl")
	policy := middleware.RateLimitPolicy{Limit: 20, Window: 10 * time.Minute}

	const attempts = 100
	var allowed atomic.Int64
	errCh := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(context.Background(), "same-actor", policy)
			if err != nil {
				errCh <- err
				return
			}
			if decision.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("limiter allow failed: %v", err)
	}
	if got := allowed.Load(); got != int64(policy.Limit) {
		t.Fatalf("expected exactly %d allowed requests, got %d", policy.Limit, got)
	}
}
