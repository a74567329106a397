package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sandeepkv93/session-security-engine/internal/app"
	"github.com/sandeepkv93/session-security-engine/internal/config"
	"github.com/sandeepkv93/session-security-engine/internal/health"
	"github.com/sandeepkv93/session-security-engine/internal/http/handler"
	"github.com/sandeepkv93/session-security-engine/internal/http/middleware"
	"github.com/sandeepkv93/session-security-engine/internal/http/router"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"

	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type Logging struct {
	Logger   *slog.Logger
	Provider *sdklog.LoggerProvider
}

func provideLogging(ctx context.Context, cfg *config.Config) (*Logging, error) {
	logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return &Logging{Logger: logger, Provider: lp}, nil
}

func provideLogger(l *Logging) *slog.Logger { return l.Logger }

func provideObservability(ctx context.Context, cfg *config.Config, l *Logging) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, l.Logger, l.Provider)
}

func provideDB(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := repository.Migrate(db); err != nil {
		cleanup()
		return nil, nil, err
	}
	return db, cleanup, nil
}

// provideRedis returns a nil client when REDIS_ADDR is unset.
func provideRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func provideJWTManager(cfg *config.Config) (*security.JWTManager, error) {
	return security.NewJWTManager(security.JWTConfig{
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		MFASecret:     cfg.JWTMFASecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		MFATTL:        cfg.MFATokenTTL,
	})
}

func providePasswordHasher(cfg *config.Config) (*security.PasswordHasher, error) {
	return security.NewPasswordHasher(cfg.BcryptCost)
}

func provideSessionRepository(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient) repository.SessionRepository {
	if cfg.SessionStore == "redis" && rdb != nil {
		return repository.NewRedisSessionRepository(rdb, cfg.RedisKeyPrefix+":session")
	}
	return repository.NewSessionRepository(db)
}

func provideSessionLimiter(cfg *config.Config, sessions repository.SessionRepository, logger *slog.Logger) *service.SessionLimiter {
	return service.NewSessionLimiter(sessions, cfg.MaxSessionsPerAccount, logger)
}

func provideFingerprintValidator(cfg *config.Config) (*security.FingerprintValidator, error) {
	strictness, err := security.ParseStrictness(cfg.FingerprintStrictness)
	if err != nil {
		return nil, err
	}
	return security.NewFingerprintValidator(strictness), nil
}

func provideTokenService(
	cfg *config.Config,
	jwtMgr *security.JWTManager,
	sessions repository.SessionRepository,
	limiter *service.SessionLimiter,
	fingerprints *security.FingerprintValidator,
	logger *slog.Logger,
) *service.TokenService {
	return service.NewTokenService(jwtMgr, sessions, limiter, fingerprints, service.TokenServiceConfig{
		Pepper:      cfg.RefreshTokenPepper,
		MaxAttempts: cfg.TokenIssueMaxAttempts,
		Backoff:     cfg.TokenIssueBackoff,
	}, logger)
}

func provideMFAService(cfg *config.Config, accounts repository.AccountRepository, logger *slog.Logger) *service.MFAService {
	return service.NewMFAService(accounts, security.NewTOTP(cfg.TOTPIssuer), security.NewBackupCodeHasher(cfg.BcryptCost), cfg.BackupCodeCount, logger)
}

func provideExchangeCodeStore(cfg *config.Config, rdb redis.UniversalClient) service.ExchangeCodeStore {
	if cfg.ExchangeCodeStore == "redis" && rdb != nil {
		return service.NewRedisExchangeCodeStore(rdb, cfg.RedisKeyPrefix+":exchange_code")
	}
	return service.NewInMemoryExchangeCodeStore()
}

// provideOAuthService returns nil when Google sign-in is not configured.
func provideOAuthService(cfg *config.Config, auth *service.AuthService, codes service.ExchangeCodeStore, logger *slog.Logger) *service.OAuthService {
	if !cfg.GoogleOAuthEnabled() {
		return nil
	}
	provider := service.NewGoogleOAuthProvider(service.GoogleOAuthConfig{
		ClientID:     cfg.GoogleOAuthClientID,
		ClientSecret: cfg.GoogleOAuthClientSecret,
		RedirectURL:  cfg.GoogleOAuthRedirectURL,
		AuthURL:      cfg.GoogleOAuthAuthURL,
		TokenURL:     cfg.GoogleOAuthTokenURL,
		UserInfoURL:  cfg.GoogleOAuthUserInfoURL,
	})
	return service.NewOAuthService(provider, auth, codes, logger).WithExchangeTTL(cfg.ExchangeCodeTTL)
}

func provideAuthHandler(cfg *config.Config, auth *service.AuthService, oauth *service.OAuthService, logger *slog.Logger) *handler.AuthHandler {
	var flow handler.OAuthFlow
	if oauth != nil {
		flow = oauth
	}
	return handler.NewAuthHandler(auth, flow, cfg.AppEnv == "production", logger)
}

func provideMFAHandler(mfa *service.MFAService, logger *slog.Logger) *handler.MFAHandler {
	return handler.NewMFAHandler(mfa, logger)
}

func provideAccountHandler(auth *service.AuthService, sessions *service.SessionService, logger *slog.Logger) *handler.AccountHandler {
	return handler.NewAccountHandler(auth, sessions, logger)
}

func provideReadiness(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if rdb != nil {
		checkers = append(checkers, health.NewRedisChecker(rdb))
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, time.Second, checkers...)
}

func provideRouter(
	cfg *config.Config,
	auth *handler.AuthHandler,
	mfaHandler *handler.MFAHandler,
	accounts *handler.AccountHandler,
	jwtMgr *security.JWTManager,
	mfa *service.MFAService,
	rdb redis.UniversalClient,
	readiness *health.ProbeRunner,
	logger *slog.Logger,
) http.Handler {
	var limiter middleware.Limiter
	if rdb != nil {
		limiter = middleware.NewRedisLimiter(rdb, cfg.RedisKeyPrefix+":ratelimit")
	}
	return router.NewRouter(router.Dependencies{
		AuthHandler:      auth,
		MFAHandler:       mfaHandler,
		AccountHandler:   accounts,
		Tokens:           jwtMgr,
		MFA:              mfa,
		Logger:           logger,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		Limiter:          limiter,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	})
}

func provideServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// provideBackgroundTasks starts the expired-session and exchange-code sweepers.
func provideBackgroundTasks(cfg *config.Config, sessions repository.SessionRepository, codes service.ExchangeCodeStore, logger *slog.Logger) app.StopFunc {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		service.RunSweeper(gctx, "sessions", sessionSweeper(sessions), cfg.SweepInterval, logger)
		return nil
	})
	g.Go(func() error {
		service.RunSweeper(gctx, "exchange_codes", codes, cfg.SweepInterval, logger)
		return nil
	})
	return func() {
		cancel()
		_ = g.Wait()
	}
}

func sessionSweeper(sessions repository.SessionRepository) service.Sweeper {
	return service.SweeperFunc(func(ctx context.Context) (int, error) {
		n, err := sessions.CleanupExpired(ctx, time.Now())
		return int(n), err
	})
}

// Maintenance is the object graph used by operator commands.
type Maintenance struct {
	Config   *config.Config
	Logger   *slog.Logger
	Sessions repository.SessionRepository
	Accounts repository.AccountRepository
}

func provideMaintenance(cfg *config.Config, logger *slog.Logger, sessions repository.SessionRepository, accounts repository.AccountRepository) *Maintenance {
	return &Maintenance{Config: cfg, Logger: logger, Sessions: sessions, Accounts: accounts}
}

// SweepExpiredSessions removes records whose refresh token has expired.
func (m *Maintenance) SweepExpiredSessions(ctx context.Context) (int, error) {
	return sessionSweeper(m.Sessions).Sweep(ctx)
}

// RevokeAllSessions deletes every session of the account with the given email.
func (m *Maintenance) RevokeAllSessions(ctx context.Context, email string) (uint, int64, error) {
	account, err := m.Accounts.FindByEmail(ctx, email)
	if err != nil {
		return 0, 0, err
	}
	n, err := m.Sessions.DeleteAllByUserID(ctx, account.ID)
	if err != nil {
		return account.ID, 0, err
	}
	observability.RecordAuthLogout(ctx, "operator")
	observability.Audit(ctx, m.Logger, "session.revoke_all", "actor", "operator", "user_id", account.ID, "revoked", n)
	return account.ID, n, nil
}
