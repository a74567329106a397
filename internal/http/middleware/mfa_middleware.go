package middleware

import (
	"context"
	"net/http"

	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

type MFADecider interface {
	Decide(ctx context.Context, claims *security.Claims) service.MFADecision
}

// RequireMFA admits only requests whose access token passed the MFA gate. It must run
// after AuthMiddleware.
func RequireMFA(decider MFADecider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing claims", nil)
				return
			}
			decision := decider.Decide(r.Context(), claims)
			if !decision.Allowed {
				response.Error(w, r, http.StatusForbidden, "MFA_REQUIRED", "multi-factor authentication required",
					map[string]string{"reason": decision.Reason})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
