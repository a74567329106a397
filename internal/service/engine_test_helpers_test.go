package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

const (
	testPassword = "correct horse battery"
	testPepper   = "pepper-for-tests"
)

type testEngine struct {
	db       *gorm.DB
	auth     *AuthService
	tokens   *TokenService
	mfa      *MFAService
	sessions repository.SessionRepository
	accounts repository.AccountRepository
	jwt      *security.JWTManager
	totp     *security.TOTP
}

type engineOptions struct {
	strictness  security.Strictness
	maxSessions int
	wrap        func(repository.SessionRepository) repository.SessionRepository
}

func newTestEngine(t *testing.T, opts ...func(*engineOptions)) *testEngine {
	t.Helper()
	o := engineOptions{strictness: security.StrictnessLow, maxSessions: DefaultMaxSessionsPerAccount}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := repository.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	jwtMgr, err := security.NewJWTManager(security.JWTConfig{
		Issuer:        "session-engine-test",
		Audience:      "session-engine-test",
		AccessSecret:  "access-secret-access-secret-0123456789",
		RefreshSecret: "refresh-secret-refresh-secret-0123456789",
		MFASecret:     "mfa-secret-mfa-secret-mfa-secret-0123456789",
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	passwords, err := security.NewPasswordHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("password hasher: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := repository.NewSessionRepository(db)
	if o.wrap != nil {
		sessions = o.wrap(sessions)
	}
	accounts := repository.NewAccountRepository(db)
	totp := security.NewTOTP("session-engine-test")
	limiter := NewSessionLimiter(sessions, o.maxSessions, logger)
	tokens := NewTokenService(jwtMgr, sessions, limiter, security.NewFingerprintValidator(o.strictness), TokenServiceConfig{
		Pepper:      testPepper,
		MaxAttempts: 3,
	}, logger)
	tokens.sleep = func(context.Context, time.Duration) error { return nil }
	mfa := NewMFAService(accounts, totp, security.NewBackupCodeHasher(bcrypt.MinCost), 10, logger)

	return &testEngine{
		db:       db,
		auth:     NewAuthService(accounts, passwords, jwtMgr, tokens, mfa, logger),
		tokens:   tokens,
		mfa:      mfa,
		sessions: sessions,
		accounts: accounts,
		jwt:      jwtMgr,
		totp:     totp,
	}
}

func withStrictness(s security.Strictness) func(*engineOptions) {
	return func(o *engineOptions) { o.strictness = s }
}

func withSessionStore(wrap func(repository.SessionRepository) repository.SessionRepository) func(*engineOptions) {
	return func(o *engineOptions) { o.wrap = wrap }
}

func (e *testEngine) register(t *testing.T, email string) *TokenPair {
	t.Helper()
	pair, err := e.auth.Register(context.Background(), RegisterInput{Email: email, Name: "Test", Password: testPassword}, laptop)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return pair
}

func (e *testEngine) login(t *testing.T, email string, meta ClientMetadata) LoginOutcome {
	t.Helper()
	outcome, err := e.auth.Login(context.Background(), email, testPassword, meta)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return outcome
}

func (e *testEngine) loginTokens(t *testing.T, email string, meta ClientMetadata) *TokenPair {
	t.Helper()
	issued, ok := e.login(t, email, meta).(TokensIssued)
	if !ok {
		t.Fatalf("expected tokens for %s", email)
	}
	return issued.Tokens
}

// enableMFA runs setup and enable and returns the secret and backup codes.
func (e *testEngine) enableMFA(t *testing.T, accountID uint) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := e.auth.MFASetup(ctx, accountID)
	if err != nil {
		t.Fatalf("mfa setup: %v", err)
	}
	codes, err := e.auth.MFAEnable(ctx, accountID, e.code(t, setup.Secret))
	if err != nil {
		t.Fatalf("mfa enable: %v", err)
	}
	return setup.Secret, codes
}

func (e *testEngine) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := e.totp.Code(secret, time.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return c
}

func (e *testEngine) liveSessions(t *testing.T, userID uint) int64 {
	t.Helper()
	n, err := e.sessions.CountLive(context.Background(), userID, time.Now())
	if err != nil {
		t.Fatalf("count live: %v", err)
	}
	return n
}

var (
	laptop = ClientMetadata{
		IP:             "203.0.113.10",
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		AcceptLanguage: "en-US,en;q=0.9",
	}
	phone = ClientMetadata{
		IP:             "198.51.100.77",
		UserAgent:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) Safari/604.1",
		AcceptLanguage: "de-DE",
	}
)
