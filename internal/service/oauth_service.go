package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sandeepkv93/session-security-engine/internal/observability"
)

const googleProvider = "google"

type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

// OAuthProvider is the outbound side of an authorization-code login.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
}

type GoogleOAuthProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

func NewGoogleOAuthProvider(c GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := google.Endpoint
	if c.AuthURL != "" {
		endpoint.AuthURL = c.AuthURL
	}
	if c.TokenURL != "" {
		endpoint.TokenURL = c.TokenURL
	}
	userInfoURL := c.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	}
	return &GoogleOAuthProvider{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
	}
}

func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code)
}

func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: &oauth2.Transport{Source: oauth2.StaticTokenSource(token)},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	var body struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &OAuthUserInfo{
		ProviderUserID: body.Sub,
		Email:          body.Email,
		EmailVerified:  body.EmailVerified,
		Name:           body.Name,
	}, nil
}

// OAuthCallbackResult holds exactly one of ExchangeCode or MFA.
type OAuthCallbackResult struct {
	ExchangeCode string
	MFA          *MFAPending
}

type OAuthService struct {
	provider    OAuthProvider
	auth        *AuthService
	codes       ExchangeCodeStore
	exchangeTTL time.Duration
	logger      *slog.Logger
}

func NewOAuthService(provider OAuthProvider, auth *AuthService, codes ExchangeCodeStore, logger *slog.Logger) *OAuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthService{provider: provider, auth: auth, codes: codes, exchangeTTL: DefaultExchangeCodeTTL, logger: logger}
}

func (s *OAuthService) WithExchangeTTL(ttl time.Duration) *OAuthService {
	if ttl > 0 {
		s.exchangeTTL = ttl
	}
	return s
}

func (s *OAuthService) AuthCodeURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

// HandleGoogleCallback turns an authorization code into a verified identity and signs it
// in. Issued tokens are parked behind a one-time exchange code.
func (s *OAuthService) HandleGoogleCallback(ctx context.Context, code string, meta ClientMetadata) (*OAuthCallbackResult, error) {
	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.fail(ctx, "exchange", err)
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}
	info, err := s.provider.FetchUserInfo(ctx, token)
	if err != nil {
		s.fail(ctx, "userinfo", err)
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	if info.ProviderUserID == "" || info.Email == "" {
		err := errors.New("missing required userinfo fields")
		s.fail(ctx, "userinfo", err)
		return nil, err
	}
	if !info.EmailVerified {
		observability.RecordAuthLogin(ctx, googleProvider, "email_unverified")
		return nil, errors.New("google email not verified")
	}
	outcome, err := s.auth.LoginWithIdentity(ctx, ExternalIdentity{
		Provider:      googleProvider,
		Subject:       info.ProviderUserID,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
	}, meta)
	if err != nil {
		return nil, err
	}
	switch o := outcome.(type) {
	case MFAPending:
		return &OAuthCallbackResult{MFA: &o}, nil
	case TokensIssued:
		payload, err := json.Marshal(o.Tokens)
		if err != nil {
			return nil, fmt.Errorf("encode token pair: %w", err)
		}
		exchange := NewExchangeCode()
		if err := s.codes.Save(ctx, exchange, payload, s.exchangeTTL); err != nil {
			return nil, fmt.Errorf("save exchange code: %w", err)
		}
		return &OAuthCallbackResult{ExchangeCode: exchange}, nil
	default:
		return nil, fmt.Errorf("unexpected login outcome %T", outcome)
	}
}

// RedeemExchangeCode returns the token pair parked by HandleGoogleCallback, once.
func (s *OAuthService) RedeemExchangeCode(ctx context.Context, code string) (*TokenPair, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrExchangeCodeInvalid
	}
	payload, err := s.codes.Consume(ctx, code)
	if err != nil {
		return nil, err
	}
	var pair TokenPair
	if err := json.Unmarshal(payload, &pair); err != nil {
		return nil, fmt.Errorf("decode token pair: %w", err)
	}
	return &pair, nil
}

func (s *OAuthService) fail(ctx context.Context, stage string, err error) {
	reason := classifyOAuthError(err)
	observability.RecordAuthLogin(ctx, googleProvider, reason)
	s.logger.WarnContext(ctx, "oauth callback failed", "stage", stage, "reason", reason, "error", err)
}

func classifyOAuthError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "userinfo status"):
		return "userinfo_status"
	case strings.Contains(msg, "userinfo"):
		return "invalid_userinfo"
	case strings.HasPrefix(msg, "oauth2:"):
		return "oauth2_exchange"
	default:
		return "provider_error"
	}
}
