package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

type errorMapping struct {
	err     error
	problem response.Problem
}

var errorMappings = []errorMapping{
	{service.ErrInvalidCredentials, response.Problem{Status: http.StatusUnauthorized, Code: "INVALID_CREDENTIALS", Message: "invalid credentials"}},
	{service.ErrInvalidOrExpiredToken, response.Problem{Status: http.StatusUnauthorized, Code: "INVALID_TOKEN", Message: "invalid or expired token"}},
	{service.ErrMFAInvalid, response.Problem{Status: http.StatusUnauthorized, Code: "MFA_INVALID", Message: "invalid mfa code"}},
	{service.ErrExchangeCodeInvalid, response.Problem{Status: http.StatusUnauthorized, Code: "INVALID_EXCHANGE_CODE", Message: "invalid or expired exchange code"}},
	{service.ErrConflictState, response.Problem{Status: http.StatusConflict, Code: "CONFLICT", Message: "request conflicts with current account state"}},
	{service.ErrAccountExists, response.Problem{Status: http.StatusConflict, Code: "ACCOUNT_EXISTS", Message: "account already exists"}},
	{service.ErrPasswordPolicy, response.Problem{Status: http.StatusUnprocessableEntity, Code: "PASSWORD_POLICY", Message: "password must be between 10 and 72 bytes"}},
	{service.ErrAccountNotFound, response.Problem{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "account not found"}},
	{service.ErrSessionNotFound, response.Problem{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "session not found"}},
	{service.ErrIssuanceFailure, response.Problem{Status: http.StatusServiceUnavailable, Code: "ISSUANCE_FAILED", Message: "could not issue tokens, retry later"}},
}

// problemFor resolves err to its client-facing problem; ok is false for unmapped errors.
func problemFor(err error) (response.Problem, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.problem, true
		}
	}
	return response.Internal, false
}

// writeServiceError is the single place engine errors become HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	p, ok := problemFor(err)
	if !ok {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	response.Fail(w, r, p, nil)
}
