package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
}

type Result struct {
	TotalRequests   int
	Failures        int
	StatusClasses   map[string]int
	ReuseRejections int
}

// Run drives register, login, refresh and replay traffic against a running API.
// Profiles: auth (logins), refresh (rotation chains), mixed (both plus replays of
// rotated-out tokens, which must be rejected).
func Run(ctx context.Context, cfg Config) (*Result, error) {
	cfg.Profile = normalizeProfile(cfg.Profile)
	switch cfg.Profile {
	case "auth", "refresh", "mixed":
	default:
		return nil, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	c := &client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		res:  &Result{StatusClasses: map[string]int{}},
	}
	interval := time.Duration(cfg.Concurrency) * time.Second / time.Duration(cfg.RPS)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			return c.worker(gctx, cfg, w, interval)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return c.snapshot(), err
	}
	return c.snapshot(), nil
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type client struct {
	base string
	http *http.Client
	mu   sync.Mutex
	res  *Result
}

func (c *client) worker(ctx context.Context, cfg Config, id int, interval time.Duration) error {
	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(id)))
	email := fmt.Sprintf("loadgen-%d-%d-%d@example.test", cfg.Seed, id, time.Now().UnixNano())
	password := "loadgen-password-1"

	current, err := c.register(ctx, email, password)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		action := cfg.Profile
		if action == "mixed" {
			action = []string{"auth", "refresh", "refresh", "replay"}[rng.IntN(4)]
		}
		switch action {
		case "auth":
			if t, err := c.login(ctx, email, password); err == nil && t != nil {
				current = t
			}
		case "refresh":
			if t, _ := c.refresh(ctx, current.RefreshToken); t != nil {
				current = t
			}
		case "replay":
			// A replayed token revokes every session, so log in again afterwards.
			stale := current.RefreshToken
			if t, _ := c.refresh(ctx, stale); t == nil {
				continue
			}
			if _, status := c.refresh(ctx, stale); status == http.StatusUnauthorized {
				c.mu.Lock()
				c.res.ReuseRejections++
				c.mu.Unlock()
			}
			if t, err := c.login(ctx, email, password); err == nil && t != nil {
				current = t
			}
		}
	}
}

func (c *client) register(ctx context.Context, email, password string) (*tokens, error) {
	var t tokens
	status, err := c.post(ctx, "/api/v1/auth/register", map[string]string{"email": email, "name": "loadgen", "password": password}, &t)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("register failed with status %d", status)
	}
	return &t, nil
}

func (c *client) login(ctx context.Context, email, password string) (*tokens, error) {
	var body struct {
		Status string  `json:"status"`
		Tokens *tokens `json:"tokens"`
	}
	if _, err := c.post(ctx, "/api/v1/auth/login", map[string]string{"email": email, "password": password}, &body); err != nil {
		return nil, err
	}
	return body.Tokens, nil
}

func (c *client) refresh(ctx context.Context, refreshToken string) (*tokens, int) {
	var t tokens
	status, err := c.post(ctx, "/api/v1/auth/refresh", map[string]string{"refresh_token": refreshToken}, &t)
	if err != nil || status != http.StatusOK {
		return nil, status
	}
	return &t, status
}

func (c *client) post(ctx context.Context, path string, payload any, out any) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sessionctl-loadgen/1.0")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		c.record(0)
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	c.record(resp.StatusCode)

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 300 && out != nil {
		if err := json.Unmarshal(body, &env); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s data: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) record(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.TotalRequests++
	class := classifyStatusClass(status)
	c.res.StatusClasses[class]++
	if status == 0 || status >= 500 {
		c.res.Failures++
	}
}

func (c *client) snapshot() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := *c.res
	out.StatusClasses = make(map[string]int, len(c.res.StatusClasses))
	for k, v := range c.res.StatusClasses {
		out.StatusClasses[k] = v
	}
	return &out
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}
