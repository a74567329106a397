package service

import "errors"

// Errors returned across the engine boundary. Credential and token failures are
// deliberately coarse so callers cannot tell which check failed.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrMFAInvalid            = errors.New("invalid mfa code")
	ErrConflictState         = errors.New("conflicting account state")
	ErrIssuanceFailure       = errors.New("token issuance failed")
	ErrAccountNotFound       = errors.New("account not found")
	ErrPasswordPolicy        = errors.New("password does not meet policy")
	ErrAccountExists         = errors.New("account already exists")
	ErrSessionNotFound       = errors.New("session not found")
	ErrExchangeCodeInvalid   = errors.New("invalid or expired exchange code")
)

// errReuseDetected never leaves the package; Refresh reports it as ErrInvalidOrExpiredToken.
var errReuseDetected = errors.New("refresh token reuse detected")
