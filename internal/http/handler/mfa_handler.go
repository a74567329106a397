package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

type MFAManager interface {
	Setup(ctx context.Context, accountID uint) (*service.MFASetupResult, error)
	Enable(ctx context.Context, accountID uint, code string) ([]string, error)
	Disable(ctx context.Context, accountID uint, code string) error
	BackupCodesRemaining(ctx context.Context, accountID uint) (int64, error)
	RegenerateBackupCodes(ctx context.Context, accountID uint, code string) ([]string, error)
}

type MFAHandler struct {
	mfa    MFAManager
	logger *slog.Logger
}

func NewMFAHandler(mfa MFAManager, logger *slog.Logger) *MFAHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MFAHandler{mfa: mfa, logger: logger}
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	res, err := h.mfa.Setup(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, res)
}

func (h *MFAHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, func(ctx context.Context, accountID uint, code string) (any, error) {
		codes, err := h.mfa.Enable(ctx, accountID, code)
		return map[string][]string{"backup_codes": codes}, err
	})
}

func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, func(ctx context.Context, accountID uint, code string) (any, error) {
		return map[string]bool{"mfa_enabled": false}, h.mfa.Disable(ctx, accountID, code)
	})
}

func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, func(ctx context.Context, accountID uint, code string) (any, error) {
		codes, err := h.mfa.RegenerateBackupCodes(ctx, accountID, code)
		return map[string][]string{"backup_codes": codes}, err
	})
}

func (h *MFAHandler) BackupCodes(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	n, err := h.mfa.BackupCodesRemaining(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]int64{"remaining": n})
}

func (h *MFAHandler) withCode(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, accountID uint, code string) (any, error)) {
	_, accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := fn(r.Context(), accountID, strings.TrimSpace(req.Code))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, out)
}
