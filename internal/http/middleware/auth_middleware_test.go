package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

func newTestJWTManager(t *testing.T) *security.JWTManager {
	t.Helper()
	mgr, err := security.NewJWTManager(security.JWTConfig{
		Issuer:        "iss",
		Audience:      "aud",
		AccessSecret:  "abcdefghijklmnopqrstuvwxyz123456",
		RefreshSecret: "abcdefghijklmnopqrstuvwxyz654321",
		MFASecret:     "abcdefghijklmnopqrstuvwxyz999999",
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	return mgr
}

func TestAuthMiddlewareMissingTokenReturnsUnauthorized(t *testing.T) {
	h := AuthMiddleware(newTestJWTManager(t))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareValidBearerTokenPasses(t *testing.T) {
	jwtMgr := newTestJWTManager(t)
	token, _, err := jwtMgr.Mint(security.Identity{UserID: 42}, security.TokenKindAccess, 0)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	var subject string
	h := AuthMiddleware(jwtMgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		subject = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || subject != "42" {
		t.Fatalf("expected 204 with claims for valid token, got %d subject=%q", rr.Code, subject)
	}
}

func TestAuthMiddlewareRejectsNonAccessTokens(t *testing.T) {
	jwtMgr := newTestJWTManager(t)
	mfaToken, _, err := jwtMgr.Mint(security.Identity{UserID: 42}, security.TokenKindMFA, 0)
	if err != nil {
		t.Fatalf("mint mfa token: %v", err)
	}
	refresh, _, err := jwtMgr.Mint(security.Identity{UserID: 42, Nonce: "n"}, security.TokenKindRefresh, 0)
	if err != nil {
		t.Fatalf("mint refresh token: %v", err)
	}
	h := AuthMiddleware(jwtMgr)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for name, token := range map[string]string{"mfa": mfaToken, "refresh": refresh} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.AddCookie(&http.Cookie{Name: accessTokenCookie, Value: token})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s token: expected 401, got %d", name, rr.Code)
		}
	}
}

type staticDecider service.MFADecision

func (d staticDecider) Decide(context.Context, *security.Claims) service.MFADecision {
	return service.MFADecision(d)
}

func TestRequireMFA(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	withClaims := func(req *http.Request) *http.Request {
		return req.WithContext(context.WithValue(req.Context(), ClaimsContextKey, &security.Claims{}))
	}

	cases := []struct {
		name     string
		decision service.MFADecision
		claims   bool
		want     int
	}{
		{name: "allowed", decision: service.MFADecision{Allowed: true}, claims: true, want: http.StatusNoContent},
		{name: "not verified", decision: service.MFADecision{Reason: service.MFAReasonNotVerified}, claims: true, want: http.StatusForbidden},
		{name: "no claims", decision: service.MFADecision{Allowed: true}, claims: false, want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/mfa/backup-codes", nil)
			if tc.claims {
				req = withClaims(req)
			}
			rr := httptest.NewRecorder()
			RequireMFA(staticDecider(tc.decision))(next).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}
