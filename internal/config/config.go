package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseDriver string
	DatabaseURL    string

	SessionStore      string
	ExchangeCodeStore string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisKeyPrefix    string

	JWTIssuer        string
	JWTAudience      string
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTMFASecret     string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	MFATokenTTL      time.Duration

	RefreshTokenPepper    string
	BcryptCost            int
	MaxSessionsPerAccount int
	TokenIssueMaxAttempts int
	TokenIssueBackoff     time.Duration
	FingerprintStrictness string

	TOTPIssuer      string
	BackupCodeCount int

	ExchangeCodeTTL time.Duration
	SweepInterval   time.Duration

	AuthRateLimitRPM int
	APIRateLimitRPM  int

	GoogleOAuthClientID     string
	GoogleOAuthClientSecret string
	GoogleOAuthRedirectURL  string
	GoogleOAuthAuthURL      string
	GoogleOAuthTokenURL     string
	GoogleOAuthUserInfoURL  string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64

	ReadinessProbeTimeout        time.Duration
	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

var defaults = map[string]any{
	"APP_ENV":   "development",
	"HTTP_ADDR": ":8080",
	"LOG_LEVEL": "info",

	"DATABASE_DRIVER": "postgres",
	"DATABASE_URL":    "",

	"SESSION_STORE":       "sql",
	"EXCHANGE_CODE_STORE": "memory",
	"REDIS_ADDR":          "",
	"REDIS_PASSWORD":      "",
	"REDIS_DB":            0,
	"REDIS_KEY_PREFIX":    "sse",

	"JWT_ISSUER":         "session-security-engine",
	"JWT_AUDIENCE":       "session-security-engine-api",
	"JWT_ACCESS_SECRET":  "",
	"JWT_REFRESH_SECRET": "",
	"JWT_MFA_SECRET":     "",
	"JWT_ACCESS_TTL":     "15m",
	"JWT_REFRESH_TTL":    "168h",
	"JWT_MFA_TTL":        "5m",

	"REFRESH_TOKEN_PEPPER":     "",
	"BCRYPT_COST":              12,
	"MAX_SESSIONS_PER_ACCOUNT": 5,
	"TOKEN_ISSUE_MAX_ATTEMPTS": 3,
	"TOKEN_ISSUE_BACKOFF":      "10ms",
	"FINGERPRINT_STRICTNESS":   "low",

	"TOTP_ISSUER":       "session-security-engine",
	"BACKUP_CODE_COUNT": 10,

	"EXCHANGE_CODE_TTL": "60s",
	"SWEEP_INTERVAL":    "5m",

	"AUTH_RATE_LIMIT_RPM": 30,
	"API_RATE_LIMIT_RPM":  300,

	"GOOGLE_OAUTH_CLIENT_ID":     "",
	"GOOGLE_OAUTH_CLIENT_SECRET": "",
	"GOOGLE_OAUTH_REDIRECT_URL":  "",
	"GOOGLE_OAUTH_AUTH_URL":      "",
	"GOOGLE_OAUTH_TOKEN_URL":     "",
	"GOOGLE_OAUTH_USERINFO_URL":  "https://openidconnect.googleapis.com/v1/userinfo",

	"OTEL_SERVICE_NAME":            "session-security-engine",
	"OTEL_ENVIRONMENT":             "development",
	"OTEL_EXPORTER_OTLP_ENDPOINT":  "localhost:4317",
	"OTEL_EXPORTER_OTLP_INSECURE":  true,
	"OTEL_METRICS_ENABLED":         false,
	"OTEL_TRACING_ENABLED":         false,
	"OTEL_LOGS_ENABLED":            false,
	"OTEL_METRICS_EXPORT_INTERVAL": "15s",
	"OTEL_TRACE_SAMPLING_RATIO":    1.0,

	"READINESS_PROBE_TIMEOUT":        "2s",
	"SHUTDOWN_TIMEOUT":               "20s",
	"SHUTDOWN_HTTP_DRAIN_TIMEOUT":    "10s",
	"SHUTDOWN_OBSERVABILITY_TIMEOUT": "5s",
}

// Load reads an optional .env file and then the environment. Environment variables
// override the file.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is not an error; an
// unreadable or malformed one is.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !isMissingConfig(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	v.AutomaticEnv()
	return LoadFrom(v)
}

func isMissingConfig(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
}

// LoadFrom builds and validates a Config from v, recording the outcome as a
// config.validation.events metric.
func LoadFrom(v *viper.Viper) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	cfg, err := build(v)
	if err == nil {
		err = cfg.Validate()
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	recordConfigValidationEvent(context.Background(), v.GetString("APP_ENV"), outcome, classifyConfigLoadError(err))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(v *viper.Viper) (*Config, error) {
	p := &durationParser{v: v}
	cfg := &Config{
		AppEnv:   strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		HTTPAddr: v.GetString("HTTP_ADDR"),
		LogLevel: v.GetString("LOG_LEVEL"),

		DatabaseDriver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseURL:    v.GetString("DATABASE_URL"),

		SessionStore:      strings.ToLower(v.GetString("SESSION_STORE")),
		ExchangeCodeStore: strings.ToLower(v.GetString("EXCHANGE_CODE_STORE")),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		RedisKeyPrefix:    v.GetString("REDIS_KEY_PREFIX"),

		JWTIssuer:        v.GetString("JWT_ISSUER"),
		JWTAudience:      v.GetString("JWT_AUDIENCE"),
		JWTAccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
		JWTRefreshSecret: v.GetString("JWT_REFRESH_SECRET"),
		JWTMFASecret:     v.GetString("JWT_MFA_SECRET"),
		AccessTokenTTL:   p.get("JWT_ACCESS_TTL"),
		RefreshTokenTTL:  p.get("JWT_REFRESH_TTL"),
		MFATokenTTL:      p.get("JWT_MFA_TTL"),

		RefreshTokenPepper:    v.GetString("REFRESH_TOKEN_PEPPER"),
		BcryptCost:            v.GetInt("BCRYPT_COST"),
		MaxSessionsPerAccount: v.GetInt("MAX_SESSIONS_PER_ACCOUNT"),
		TokenIssueMaxAttempts: v.GetInt("TOKEN_ISSUE_MAX_ATTEMPTS"),
		TokenIssueBackoff:     p.get("TOKEN_ISSUE_BACKOFF"),
		FingerprintStrictness: strings.ToLower(strings.TrimSpace(v.GetString("FINGERPRINT_STRICTNESS"))),

		TOTPIssuer:      v.GetString("TOTP_ISSUER"),
		BackupCodeCount: v.GetInt("BACKUP_CODE_COUNT"),

		ExchangeCodeTTL: p.get("EXCHANGE_CODE_TTL"),
		SweepInterval:   p.get("SWEEP_INTERVAL"),

		AuthRateLimitRPM: v.GetInt("AUTH_RATE_LIMIT_RPM"),
		APIRateLimitRPM:  v.GetInt("API_RATE_LIMIT_RPM"),

		GoogleOAuthClientID:     v.GetString("GOOGLE_OAUTH_CLIENT_ID"),
		GoogleOAuthClientSecret: v.GetString("GOOGLE_OAUTH_CLIENT_SECRET"),
		GoogleOAuthRedirectURL:  v.GetString("GOOGLE_OAUTH_REDIRECT_URL"),
		GoogleOAuthAuthURL:      v.GetString("GOOGLE_OAUTH_AUTH_URL"),
		GoogleOAuthTokenURL:     v.GetString("GOOGLE_OAUTH_TOKEN_URL"),
		GoogleOAuthUserInfoURL:  v.GetString("GOOGLE_OAUTH_USERINFO_URL"),

		OTELServiceName:           v.GetString("OTEL_SERVICE_NAME"),
		OTELEnvironment:           v.GetString("OTEL_ENVIRONMENT"),
		OTELExporterOTLPEndpoint:  v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELExporterOTLPInsecure:  v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		OTELMetricsEnabled:        v.GetBool("OTEL_METRICS_ENABLED"),
		OTELTracingEnabled:        v.GetBool("OTEL_TRACING_ENABLED"),
		OTELLogsEnabled:           v.GetBool("OTEL_LOGS_ENABLED"),
		OTELMetricsExportInterval: p.get("OTEL_METRICS_EXPORT_INTERVAL"),
		OTELTraceSamplingRatio:    v.GetFloat64("OTEL_TRACE_SAMPLING_RATIO"),

		ReadinessProbeTimeout:        p.get("READINESS_PROBE_TIMEOUT"),
		ShutdownTimeout:              p.get("SHUTDOWN_TIMEOUT"),
		ShutdownHTTPDrainTimeout:     p.get("SHUTDOWN_HTTP_DRAIN_TIMEOUT"),
		ShutdownObservabilityTimeout: p.get("SHUTDOWN_OBSERVABILITY_TIMEOUT"),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// durationParser keeps the first parse failure so build can read every key in one pass.
type durationParser struct {
	v   *viper.Viper
	err error
}

func (p *durationParser) get(key string) time.Duration {
	raw := strings.TrimSpace(p.v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
	}
	return d
}

func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.HTTPAddr != "", "HTTP_ADDR is required")
	check(c.DatabaseURL != "", "DATABASE_URL is required")
	check(c.DatabaseDriver == "postgres" || c.DatabaseDriver == "sqlite", "DATABASE_DRIVER must be postgres or sqlite")
	check(c.SessionStore == "sql" || c.SessionStore == "redis", "SESSION_STORE must be sql or redis")
	check(c.ExchangeCodeStore == "memory" || c.ExchangeCodeStore == "redis", "EXCHANGE_CODE_STORE must be memory or redis")
	if c.SessionStore == "redis" || c.ExchangeCodeStore == "redis" {
		check(c.RedisAddr != "", "REDIS_ADDR is required when a redis store is selected")
	}

	for key, secret := range map[string]string{
		"JWT_ACCESS_SECRET":  c.JWTAccessSecret,
		"JWT_REFRESH_SECRET": c.JWTRefreshSecret,
		"JWT_MFA_SECRET":     c.JWTMFASecret,
	} {
		check(len(secret) >= 32, key+" must be at least 32 bytes")
	}
	check(c.JWTAccessSecret != c.JWTRefreshSecret && c.JWTAccessSecret != c.JWTMFASecret && c.JWTRefreshSecret != c.JWTMFASecret,
		"JWT secrets must differ per token kind")
	check(len(c.RefreshTokenPepper) >= 16, "REFRESH_TOKEN_PEPPER must be at least 16 bytes")
	check(c.AccessTokenTTL > 0 && c.RefreshTokenTTL > c.AccessTokenTTL, "JWT_REFRESH_TTL must exceed JWT_ACCESS_TTL")
	check(c.MFATokenTTL > 0 && c.MFATokenTTL <= 15*time.Minute, "JWT_MFA_TTL must be positive and at most 15m")

	check(c.BcryptCost >= 4 && c.BcryptCost <= 31, "BCRYPT_COST must be between 4 and 31")
	check(c.MaxSessionsPerAccount >= 1, "MAX_SESSIONS_PER_ACCOUNT must be at least 1")
	check(c.TokenIssueMaxAttempts >= 1 && c.TokenIssueMaxAttempts <= 10, "TOKEN_ISSUE_MAX_ATTEMPTS must be between 1 and 10")
	check(c.TokenIssueBackoff >= 0, "TOKEN_ISSUE_BACKOFF must not be negative")
	switch c.FingerprintStrictness {
	case "off", "low", "strict":
	default:
		problems = append(problems, "FINGERPRINT_STRICTNESS must be off, low or strict")
	}
	check(c.BackupCodeCount >= 1 && c.BackupCodeCount <= 50, "BACKUP_CODE_COUNT must be between 1 and 50")
	check(c.ExchangeCodeTTL > 0, "EXCHANGE_CODE_TTL must be positive")
	check(c.SweepInterval > 0, "SWEEP_INTERVAL must be positive")
	check(c.AuthRateLimitRPM >= 1 && c.APIRateLimitRPM >= 1, "rate limits must be at least 1 request per minute")
	check(c.OTELTraceSamplingRatio >= 0 && c.OTELTraceSamplingRatio <= 1, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	if c.AppEnv == "production" {
		check(c.DatabaseDriver == "postgres", "DATABASE_DRIVER must be postgres in production")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &ValidationError{Problems: problems}
	}
	return nil
}

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validate config: " + strings.Join(e.Problems, "; ")
}

func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleOAuthClientID != "" && c.GoogleOAuthClientSecret != "" && c.GoogleOAuthRedirectURL != ""
}
