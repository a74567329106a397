package service

import (
	"context"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/repository"
)

type SessionView struct {
	ID        uint      `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent"`
	IP        string    `json:"ip"`
	IsCurrent bool      `json:"is_current"`
}

type SessionService struct {
	sessions repository.SessionRepository
	now      func() time.Time
}

func NewSessionService(sessions repository.SessionRepository) *SessionService {
	return &SessionService{sessions: sessions, now: time.Now}
}

// ListActiveSessions returns live sessions newest first. currentTokenID is the jti of
// the caller's access token, which matches the jti of the refresh token it was issued with.
func (s *SessionService) ListActiveSessions(ctx context.Context, userID uint, currentTokenID string) ([]SessionView, error) {
	sessions, err := s.sessions.ListLiveByUserID(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:        session.ID,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
			UserAgent: session.UserAgent,
			IP:        session.IP,
			IsCurrent: currentTokenID != "" && session.TokenID == currentTokenID,
		})
	}
	return views, nil
}

func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID uint) error {
	deleted, err := s.sessions.DeleteByIDForUser(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrSessionNotFound
	}
	return nil
}
