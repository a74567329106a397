package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

const (
	DefaultIssueMaxAttempts = 3
	DefaultIssueBackoff     = 10 * time.Millisecond
)

// ClientMetadata describes the caller of a login or refresh. Fingerprint is the
// client-supplied value; when empty it is derived from the other fields.
type ClientMetadata struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	Fingerprint    string
}

func (m ClientMetadata) connection() security.ClientMetadata {
	return security.ClientMetadata{IP: m.IP, UserAgent: m.UserAgent, AcceptLanguage: m.AcceptLanguage}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       uint   `json:"-"`
	SessionID    uint   `json:"-"`
}

// IdentityResolver rebuilds access claims for an account during rotation. It must fail
// for accounts that may no longer hold sessions.
type IdentityResolver func(ctx context.Context, userID uint) (security.Identity, error)

type TokenServiceConfig struct {
	Pepper      string
	MaxAttempts int
	Backoff     time.Duration
}

type TokenService struct {
	jwtMgr       *security.JWTManager
	sessions     repository.SessionRepository
	limiter      *SessionLimiter
	fingerprints *security.FingerprintValidator
	pepper       string
	maxAttempts  int
	backoff      time.Duration
	now          func() time.Time
	sleep        func(context.Context, time.Duration) error
	logger       *slog.Logger
}

var errFingerprintMismatch = errors.New("device fingerprint mismatch")

func NewTokenService(
	jwtMgr *security.JWTManager,
	sessions repository.SessionRepository,
	limiter *SessionLimiter,
	fingerprints *security.FingerprintValidator,
	cfg TokenServiceConfig,
	logger *slog.Logger,
) *TokenService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultIssueMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = DefaultIssueBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		jwtMgr:       jwtMgr,
		sessions:     sessions,
		limiter:      limiter,
		fingerprints: fingerprints,
		pepper:       cfg.Pepper,
		maxAttempts:  cfg.MaxAttempts,
		backoff:      cfg.Backoff,
		now:          time.Now,
		sleep:        sleepContext,
		logger:       logger,
	}
}

func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *TokenService) HashRefreshToken(raw string) string {
	return security.HashRefreshToken(raw, s.pepper)
}

// Issue mints an access/refresh pair and persists the refresh record, making room
// under the session limit first.
func (s *TokenService) Issue(ctx context.Context, id security.Identity, meta ClientMetadata) (*TokenPair, error) {
	return s.issue(ctx, id, meta, s.resolveFingerprint(meta), nil)
}

// Rotate exchanges a refresh token for a new pair. The presented record is marked used
// and kept so a later replay is recognised as reuse.
func (s *TokenService) Rotate(ctx context.Context, presented string, meta ClientMetadata, resolve IdentityResolver) (*TokenPair, error) {
	ctx, span := observability.StartSpan(ctx, "token.rotate")
	defer span.End()

	claims, err := s.jwtMgr.Verify(presented, security.TokenKindRefresh)
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}
	now := s.now()
	record, err := s.sessions.FindByHash(ctx, s.HashRefreshToken(presented))
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if record.UserID != userID || !record.ExpiresAt.After(now) {
		return nil, ErrInvalidOrExpiredToken
	}

	if record.Used {
		if record.Rotated() {
			return nil, s.reuseDetected(ctx, record)
		}
		return nil, ErrInvalidOrExpiredToken
	}

	supplied := s.resolveFingerprint(meta)
	if record.Fingerprint != "" {
		if !s.fingerprints.Matches(record.Fingerprint, supplied) {
			observability.RecordFingerprintCheck(ctx, string(s.fingerprints.Strictness()), "mismatch")
			if _, err := s.sessions.MarkUsed(ctx, record.ID, now, domain.SessionUsedFingerprintMismatch); err != nil {
				return nil, fmt.Errorf("burn session: %w", err)
			}
			s.logger.WarnContext(ctx, "refresh rejected on fingerprint mismatch",
				"user_id", record.UserID, "session_id", record.ID, "ip", meta.IP)
			return nil, errFingerprintMismatch
		}
		observability.RecordFingerprintCheck(ctx, string(s.fingerprints.Strictness()), "match")
	}
	if supplied == "" {
		supplied = record.Fingerprint
	}

	id, err := resolve(ctx, userID)
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}
	id.MFAVerified = claims.MFAVerified

	claimed := false
	claimOld := func() error {
		flipped, err := s.sessions.MarkUsed(ctx, record.ID, now, domain.SessionUsedRotated)
		if err != nil {
			return fmt.Errorf("mark session used: %w", err)
		}
		if !flipped {
			return s.reuseDetected(ctx, record)
		}
		claimed = true
		return nil
	}
	pair, err := s.issue(ctx, id, meta, supplied, claimOld)
	if err != nil && claimed {
		s.releaseClaim(ctx, record)
	}
	return pair, err
}

// releaseClaim returns a claimed record to unused after the replacement could not be
// persisted, so the client can retry with the same token.
func (s *TokenService) releaseClaim(ctx context.Context, record *domain.Session) {
	released, err := s.sessions.ReleaseUsed(context.WithoutCancel(ctx), record.ID, domain.SessionUsedRotated)
	if err != nil {
		s.logger.ErrorContext(ctx, "release refresh claim failed",
			"user_id", record.UserID, "session_id", record.ID, "error", err)
		return
	}
	if !released {
		s.logger.WarnContext(ctx, "refresh claim already gone",
			"user_id", record.UserID, "session_id", record.ID)
	}
}

// RevokeAll deletes every session of the account.
func (s *TokenService) RevokeAll(ctx context.Context, userID uint) (int64, error) {
	return s.sessions.DeleteAllByUserID(ctx, userID)
}

// RevokeToken deletes the session for a refresh token owned by userID.
func (s *TokenService) RevokeToken(ctx context.Context, userID uint, refreshToken string) (bool, error) {
	return s.sessions.DeleteByHash(ctx, userID, s.HashRefreshToken(refreshToken))
}

func (s *TokenService) reuseDetected(ctx context.Context, record *domain.Session) error {
	n, err := s.sessions.DeleteAllByUserID(ctx, record.UserID)
	observability.RecordReuseDetected(ctx)
	s.logger.WarnContext(ctx, "refresh token reuse detected; all sessions revoked",
		"user_id", record.UserID, "session_id", record.ID, "revoked", n)
	if err != nil {
		return fmt.Errorf("revoke sessions after reuse: %w", err)
	}
	return errReuseDetected
}

func (s *TokenService) resolveFingerprint(meta ClientMetadata) string {
	if meta.Fingerprint != "" {
		return meta.Fingerprint
	}
	return s.fingerprints.Derive(meta.connection())
}

// issue runs the bounded collision-avoidance loop. beforePersist runs once, after the
// first collision-free mint and before any store write.
func (s *TokenService) issue(ctx context.Context, id security.Identity, meta ClientMetadata, fingerprint string, beforePersist func() error) (*TokenPair, error) {
	limited := false
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			observability.RecordIssueCollision(ctx)
			if err := s.sleep(ctx, time.Duration(attempt-1)*s.backoff); err != nil {
				return nil, err
			}
		}

		nonce, err := security.NewRefreshNonce()
		if err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
		refreshID := id
		refreshID.Nonce = nonce
		refresh, refreshClaims, err := s.jwtMgr.Mint(refreshID, security.TokenKindRefresh, 0)
		if err != nil {
			return nil, fmt.Errorf("mint refresh token: %w", err)
		}
		hash := s.HashRefreshToken(refresh)
		exists, err := s.sessions.ExistsByHash(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("check refresh hash: %w", err)
		}
		if exists {
			continue
		}

		accessID := id
		accessID.TokenID = refreshClaims.ID
		access, _, err := s.jwtMgr.Mint(accessID, security.TokenKindAccess, 0)
		if err != nil {
			return nil, fmt.Errorf("mint access token: %w", err)
		}

		if beforePersist != nil {
			if err := beforePersist(); err != nil {
				return nil, err
			}
			beforePersist = nil
		}
		now := s.now().UTC()
		if !limited {
			if _, err := s.limiter.MakeRoom(ctx, id.UserID, now); err != nil {
				return nil, err
			}
			limited = true
		}

		record := &domain.Session{
			UserID:           id.UserID,
			RefreshTokenHash: hash,
			TokenID:          refreshClaims.ID,
			UserAgent:        truncate(meta.UserAgent, 512),
			IP:               truncate(meta.IP, 64),
			Fingerprint:      fingerprint,
			CreatedAt:        now,
			ExpiresAt:        refreshClaims.ExpiresAt.Time.UTC(),
		}
		if err := s.sessions.Create(ctx, record); err != nil {
			if errors.Is(err, repository.ErrDuplicateTokenHash) {
				continue
			}
			return nil, fmt.Errorf("persist session: %w", err)
		}
		return &TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "Bearer",
			ExpiresIn:    int64(s.jwtMgr.TTL(security.TokenKindAccess) / time.Second),
			UserID:       id.UserID,
			SessionID:    record.ID,
		}, nil
	}

	observability.RecordIssueFailure(ctx)
	s.logger.ErrorContext(ctx, "refresh token issuance exhausted collision retries",
		"user_id", id.UserID, "attempts", s.maxAttempts)
	return nil, ErrIssuanceFailure
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}
