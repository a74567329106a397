package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
)

const DefaultMaxSessionsPerAccount = 5

// SessionLimiter frees one slot for a new session by evicting the oldest live ones.
type SessionLimiter struct {
	sessions repository.SessionRepository
	max      int
	logger   *slog.Logger
}

func NewSessionLimiter(sessions repository.SessionRepository, max int, logger *slog.Logger) *SessionLimiter {
	if max <= 0 {
		max = DefaultMaxSessionsPerAccount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionLimiter{sessions: sessions, max: max, logger: logger}
}

func (l *SessionLimiter) Max() int { return l.max }

// MakeRoom runs before a new record is persisted. It re-counts once after evicting so
// a concurrent issuance for the same account is picked up rather than locked out.
func (l *SessionLimiter) MakeRoom(ctx context.Context, userID uint, now time.Time) (int64, error) {
	var evicted int64
	for pass := 0; pass < 2; pass++ {
		count, err := l.sessions.CountLive(ctx, userID, now)
		if err != nil {
			return evicted, fmt.Errorf("count live sessions: %w", err)
		}
		excess := int(count) - l.max + 1
		if excess <= 0 {
			break
		}
		ids, err := l.sessions.OldestLive(ctx, userID, now, excess)
		if err != nil {
			return evicted, fmt.Errorf("find oldest sessions: %w", err)
		}
		n, err := l.sessions.DeleteByIDs(ctx, userID, ids)
		if err != nil {
			return evicted, fmt.Errorf("evict sessions: %w", err)
		}
		evicted += n
	}
	if evicted > 0 {
		observability.RecordSessionEvictions(ctx, evicted)
		l.logger.InfoContext(ctx, "sessions evicted by limit", "user_id", userID, "evicted", evicted, "max", l.max)
	}
	return evicted, nil
}
