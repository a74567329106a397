package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/session-security-engine/internal/observability"
)

const DefaultExchangeCodeTTL = time.Minute

// ExchangeCodeStore holds short-lived single-use values. Consume returns
// ErrExchangeCodeInvalid for unknown, expired or already consumed codes.
type ExchangeCodeStore interface {
	Save(ctx context.Context, code string, value []byte, ttl time.Duration) error
	Consume(ctx context.Context, code string) ([]byte, error)
	Sweep(ctx context.Context) (int, error)
}

// NewExchangeCode returns a random opaque code.
func NewExchangeCode() string {
	return uuid.NewString()
}

type exchangeEntry struct {
	value     []byte
	expiresAt time.Time
}

type InMemoryExchangeCodeStore struct {
	mu    sync.Mutex
	store map[string]exchangeEntry
	now   func() time.Time
}

func NewInMemoryExchangeCodeStore() *InMemoryExchangeCodeStore {
	return &InMemoryExchangeCodeStore{
		store: make(map[string]exchangeEntry),
		now:   time.Now,
	}
}

func (s *InMemoryExchangeCodeStore) WithClock(now func() time.Time) *InMemoryExchangeCodeStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *InMemoryExchangeCodeStore) Save(_ context.Context, code string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultExchangeCodeTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[code] = exchangeEntry{value: append([]byte(nil), value...), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryExchangeCodeStore) Consume(_ context.Context, code string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.store[code]
	if !ok {
		return nil, ErrExchangeCodeInvalid
	}
	delete(s.store, code)
	if !s.now().Before(entry.expiresAt) {
		return nil, ErrExchangeCodeInvalid
	}
	return entry.value, nil
}

// Sweep drops expired entries and reports how many were removed.
func (s *InMemoryExchangeCodeStore) Sweep(context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for code, entry := range s.store {
		if !now.Before(entry.expiresAt) {
			delete(s.store, code)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryExchangeCodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.store)
}

// Sweeper is anything with a periodic cleanup step.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweeperFunc adapts a function to Sweeper.
type SweeperFunc func(ctx context.Context) (int, error)

func (f SweeperFunc) Sweep(ctx context.Context) (int, error) { return f(ctx) }

// RunSweeper calls s.Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, name string, s Sweeper, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("sweep failed", "target", name, "error", err)
				continue
			}
			if removed > 0 {
				observability.RecordSweeperRemoved(ctx, name, int64(removed))
				logger.Debug("sweep completed", "target", name, "removed", removed)
			}
		}
	}
}
