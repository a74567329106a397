package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

type AccountManager interface {
	Account(ctx context.Context, accountID uint) (*domain.Account, error)
	SetPassword(ctx context.Context, accountID uint, password string) error
	ChangePassword(ctx context.Context, accountID uint, current, next string) error
}

type SessionManager interface {
	ListActiveSessions(ctx context.Context, userID uint, currentTokenID string) ([]service.SessionView, error)
	RevokeSession(ctx context.Context, userID, sessionID uint) error
}

type AccountHandler struct {
	accounts AccountManager
	sessions SessionManager
	logger   *slog.Logger
}

func NewAccountHandler(accounts AccountManager, sessions SessionManager, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{accounts: accounts, sessions: sessions, logger: logger}
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.Account(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"account":      account,
		"has_password": account.HasPassword(),
		"mfa_verified": claims.MFAVerified,
	})
}

func (h *AccountHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	views, err := h.sessions.ListActiveSessions(r.Context(), accountID, claims.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *AccountHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	sessionID, ok := uintParam(r, "session_id")
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return
	}
	if err := h.sessions.RevokeSession(r.Context(), accountID, sessionID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *AccountHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	var req setPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.SetPassword(r.Context(), accountID, req.Password); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_set"})
}

func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_changed"})
}
