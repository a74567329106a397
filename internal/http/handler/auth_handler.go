package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

const oauthStateCookie = "oauth_state"

type AuthEngine interface {
	Register(ctx context.Context, in service.RegisterInput, meta service.ClientMetadata) (*service.TokenPair, error)
	Login(ctx context.Context, email, secret string, meta service.ClientMetadata) (service.LoginOutcome, error)
	MFACompleteLogin(ctx context.Context, mfaToken, code string, meta service.ClientMetadata) (*service.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, meta service.ClientMetadata) (*service.TokenPair, error)
	Logout(ctx context.Context, accountID uint, refreshToken string) error
	LogoutAll(ctx context.Context, accountID uint) (int64, error)
}

type OAuthFlow interface {
	AuthCodeURL(state string) string
	HandleGoogleCallback(ctx context.Context, code string, meta service.ClientMetadata) (*service.OAuthCallbackResult, error)
	RedeemExchangeCode(ctx context.Context, code string) (*service.TokenPair, error)
}

type AuthHandler struct {
	auth          AuthEngine
	oauth         OAuthFlow
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler builds the handler; oauth may be nil when no provider is configured.
func NewAuthHandler(auth AuthEngine, oauth OAuthFlow, secureCookies bool, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, oauth: oauth, secureCookies: secureCookies, logger: logger}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaLoginRequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type exchangeRequest struct {
	Code string `json:"code"`
}

type loginResponse struct {
	Status    string             `json:"status"`
	Tokens    *service.TokenPair `json:"tokens,omitempty"`
	MFAToken  string             `json:"mfa_token,omitempty"`
	ExpiresIn int64              `json:"expires_in,omitempty"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.auth.Register(r.Context(), service.RegisterInput{Email: req.Email, Name: req.Name, Password: req.Password}, clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, pair)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := h.auth.Login(r.Context(), req.Email, req.Password, clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toLoginResponse(outcome))
}

func toLoginResponse(outcome service.LoginOutcome) loginResponse {
	switch o := outcome.(type) {
	case service.MFAPending:
		return loginResponse{Status: "mfa_required", MFAToken: o.MFAToken, ExpiresIn: o.ExpiresIn}
	case service.TokensIssued:
		return loginResponse{Status: "authenticated", Tokens: o.Tokens}
	default:
		return loginResponse{Status: "unknown"}
	}
}

func (h *AuthHandler) MFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.auth.MFACompleteLogin(r.Context(), req.MFAToken, strings.TrimSpace(req.Code), clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, loginResponse{Status: "authenticated", Tokens: pair})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken, clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.Logout(r.Context(), accountID, req.RefreshToken); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	n, err := h.auth.LogoutAll(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		observability.Audit(r.Context(), h.logger, "auth.google.login", "outcome", "rejected", "reason", "provider_disabled")
		response.Error(w, r, http.StatusNotFound, "NOT_ENABLED", "google login is not enabled", nil)
		return
	}
	state, err := security.RandomString(24)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/v1/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	observability.Audit(r.Context(), h.logger, "auth.google.login", "outcome", "success", "reason", "redirect_issued")
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		response.Error(w, r, http.StatusNotFound, "NOT_ENABLED", "google login is not enabled", nil)
		return
	}
	state, code := r.URL.Query().Get("state"), r.URL.Query().Get("code")
	if state == "" || code == "" {
		observability.Audit(r.Context(), h.logger, "auth.google.callback", "outcome", "failure", "reason", "missing_code_or_state")
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing state or code", nil)
		return
	}
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value != state {
		observability.Audit(r.Context(), h.logger, "auth.google.callback", "outcome", "failure", "reason", "invalid_state")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid oauth state", nil)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/api/v1/auth/google", MaxAge: -1})

	result, err := h.oauth.HandleGoogleCallback(r.Context(), code, clientMetadata(r))
	if err != nil {
		observability.Audit(r.Context(), h.logger, "auth.google.callback", "outcome", "failure", "reason", "provider_login_failed")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "google login failed", nil)
		return
	}
	if result.MFA != nil {
		response.JSON(w, r, http.StatusOK, loginResponse{Status: "mfa_required", MFAToken: result.MFA.MFAToken, ExpiresIn: result.MFA.ExpiresIn})
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "authenticated", "exchange_code": result.ExchangeCode})
}

func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		response.Error(w, r, http.StatusNotFound, "NOT_ENABLED", "google login is not enabled", nil)
		return
	}
	var req exchangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.oauth.RedeemExchangeCode(r.Context(), req.Code)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pair)
}
