package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/sandeepkv93/session-security-engine/internal/health"
	"github.com/sandeepkv93/session-security-engine/internal/http/handler"
	"github.com/sandeepkv93/session-security-engine/internal/http/router"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

const testPassword = "integration-password-1"

type serverOptions struct {
	redisSessions bool
	oauthProvider service.OAuthProvider
	maxSessions   int
	strictness    security.Strictness
}

type engineServer struct {
	baseURL string
	client  *http.Client
	redis   *miniredis.Miniredis
	totp    *security.TOTP
	logs    *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newEngineServer(t *testing.T, opts serverOptions) *engineServer {
	t.Helper()
	if opts.maxSessions == 0 {
		opts.maxSessions = 5
	}
	if opts.strictness == "" {
		opts.strictness = security.StrictnessLow
	}

	db, err := repository.Open("sqlite", filepath.Join(t.TempDir(), "integration.db"))
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

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logs := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))

	jwtMgr, err := security.NewJWTManager(security.JWTConfig{
		Issuer:        "integration",
		Audience:      "integration",
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

	var sessions repository.SessionRepository = repository.NewSessionRepository(db)
	codes := service.ExchangeCodeStore(service.NewInMemoryExchangeCodeStore())
	if opts.redisSessions {
		sessions = repository.NewRedisSessionRepository(rdb, "itest:session")
		codes = service.NewRedisExchangeCodeStore(rdb, "itest:exchange_code")
	}
	accounts := repository.NewAccountRepository(db)
	totp := security.NewTOTP("integration")
	tokens := service.NewTokenService(jwtMgr, sessions, service.NewSessionLimiter(sessions, opts.maxSessions, logger),
		security.NewFingerprintValidator(opts.strictness), service.TokenServiceConfig{Pepper: "integration-pepper"}, logger)
	mfa := service.NewMFAService(accounts, totp, security.NewBackupCodeHasher(bcrypt.MinCost), 10, logger)
	auth := service.NewAuthService(accounts, passwords, jwtMgr, tokens, mfa, logger)

	var flow handler.OAuthFlow
	if opts.oauthProvider != nil {
		flow = service.NewOAuthService(opts.oauthProvider, auth, codes, logger)
	}
	readiness := health.NewProbeRunner(time.Second, 0, health.NewDBChecker(db), health.NewRedisChecker(rdb))

	h := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(auth, flow, false, logger),
		MFAHandler:       handler.NewMFAHandler(mfa, logger),
		AccountHandler:   handler.NewAccountHandler(auth, service.NewSessionService(sessions), logger),
		Tokens:           jwtMgr,
		MFA:              mfa,
		Logger:           logger,
		AuthRateLimitRPM: 10000,
		APIRateLimitRPM:  10000,
		Readiness:        readiness,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &engineServer{baseURL: srv.URL, client: client, redis: mr, totp: totp, logs: logs}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type loginResult struct {
	Status       string     `json:"status"`
	Tokens       *tokenPair `json:"tokens"`
	MFAToken     string     `json:"mfa_token"`
	ExchangeCode string     `json:"exchange_code"`
}

func (s *engineServer) do(t *testing.T, method, path string, headers map[string]string, body any) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("User-Agent", "integration-client/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env apiEnvelope
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v body=%s", err, raw)
		}
	}
	return resp, env
}

func decodeData[T any](t *testing.T, env apiEnvelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v raw=%s", err, env.Data)
	}
	return out
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func requireErrorCode(t *testing.T, resp *http.Response, env apiEnvelope, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d (%+v)", status, resp.StatusCode, env.Error)
	}
	if env.Error == nil || env.Error.Code != code {
		t.Fatalf("expected error code %s, got %+v", code, env.Error)
	}
}

func (s *engineServer) register(t *testing.T, email string) tokenPair {
	t.Helper()
	resp, env := s.do(t, http.MethodPost, "/api/v1/auth/register", nil, map[string]string{
		"email": email, "name": "Integration", "password": testPassword,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d error=%+v", email, resp.StatusCode, env.Error)
	}
	return decodeData[tokenPair](t, env)
}

func (s *engineServer) login(t *testing.T, email string) loginResult {
	t.Helper()
	resp, env := s.do(t, http.MethodPost, "/api/v1/auth/login", nil, map[string]string{"email": email, "password": testPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d error=%+v", email, resp.StatusCode, env.Error)
	}
	return decodeData[loginResult](t, env)
}

func (s *engineServer) refresh(t *testing.T, refreshToken string) (*http.Response, apiEnvelope) {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, map[string]string{"refresh_token": refreshToken})
}

type auditEvent map[string]any

// auditEvents returns the audit records logged so far.
func (s *engineServer) auditEvents(t *testing.T) []auditEvent {
	t.Helper()
	var events []auditEvent
	sc := bufio.NewScanner(strings.NewReader(s.logs.String()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var rec auditEvent
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec["msg"] == "audit" {
			events = append(events, rec)
		}
	}
	return events
}

func requireAuditEvent(t *testing.T, events []auditEvent, event, outcome, reason string) {
	t.Helper()
	for _, e := range events {
		if e["event"] == event && e["outcome"] == outcome && (reason == "" || e["reason"] == reason) {
			return
		}
	}
	t.Fatalf("audit event %s outcome=%s reason=%s not found in %s", event, outcome, reason, fmt.Sprint(events))
}
