package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

type MFASetupResult struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// MFADecision is the outcome of the MFA requirement check for an authenticated request.
type MFADecision struct {
	Allowed bool
	Reason  string
}

const (
	MFAReasonNotEnrolled = "mfa_not_enrolled"
	MFAReasonNotVerified = "mfa_not_verified"
	MFAReasonUnknown     = "account_unavailable"
)

type MFAService struct {
	accounts  repository.AccountRepository
	totp      *security.TOTP
	codes     *security.BackupCodeHasher
	codeCount int
	now       func() time.Time
	logger    *slog.Logger
}

func NewMFAService(accounts repository.AccountRepository, totp *security.TOTP, codes *security.BackupCodeHasher, codeCount int, logger *slog.Logger) *MFAService {
	if codeCount <= 0 {
		codeCount = security.DefaultBackupCodes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MFAService{accounts: accounts, totp: totp, codes: codes, codeCount: codeCount, now: time.Now, logger: logger}
}

func (s *MFAService) WithClock(now func() time.Time) *MFAService {
	if now != nil {
		s.now = now
	}
	return s
}

// Setup stores a new pending secret. MFA stays disabled until Enable confirms a code.
func (s *MFAService) Setup(ctx context.Context, accountID uint) (*MFASetupResult, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.MFAEnabled {
		return nil, ErrConflictState
	}
	secret, uri, err := s.totp.Generate(account.Email)
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	if err := s.accounts.SetPendingMFASecret(ctx, accountID, secret); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}
	observability.RecordMFAEvent(ctx, "setup", "success")
	return &MFASetupResult{Secret: secret, URI: uri}, nil
}

// Enable confirms the pending secret and returns the plaintext backup codes. They are
// not retrievable afterwards.
func (s *MFAService) Enable(ctx context.Context, accountID uint, code string) ([]string, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.MFAEnabled || account.MFAPendingSecret == nil {
		return nil, ErrConflictState
	}
	if !s.totp.Validate(code, *account.MFAPendingSecret, s.now()) {
		observability.RecordMFAEvent(ctx, "enable", "invalid_code")
		return nil, ErrMFAInvalid
	}
	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	ok, err := s.accounts.EnableMFA(ctx, accountID, *account.MFAPendingSecret, hashes)
	if err != nil {
		return nil, fmt.Errorf("enable mfa: %w", err)
	}
	if !ok {
		return nil, ErrConflictState
	}
	observability.RecordMFAEvent(ctx, "enable", "success")
	observability.Audit(ctx, s.logger, "mfa.enabled", "user_id", accountID)
	return codes, nil
}

// Verify accepts a current TOTP code or an unused backup code. A matching backup code
// is removed before Verify returns.
func (s *MFAService) Verify(ctx context.Context, accountID uint, code string) error {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return ErrMFAInvalid
	}
	return s.verify(ctx, account, code)
}

func (s *MFAService) verify(ctx context.Context, account *domain.Account, code string) error {
	if !account.MFAEnabled || account.MFASecret == nil {
		return ErrMFAInvalid
	}
	if s.totp.Validate(code, *account.MFASecret, s.now()) {
		observability.RecordMFAEvent(ctx, "verify", "totp")
		return nil
	}
	if !security.LooksLikeBackupCode(code) {
		observability.RecordMFAEvent(ctx, "verify", "invalid_code")
		return ErrMFAInvalid
	}
	stored, err := s.accounts.ListBackupCodes(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("list backup codes: %w", err)
	}
	for _, bc := range stored {
		if !s.codes.Matches(bc.CodeHash, code) {
			continue
		}
		consumed, err := s.accounts.ConsumeBackupCode(ctx, account.ID, bc.ID)
		if err != nil {
			return fmt.Errorf("consume backup code: %w", err)
		}
		if !consumed {
			break
		}
		observability.RecordMFAEvent(ctx, "verify", "backup_code")
		observability.Audit(ctx, s.logger, "mfa.backup_code_used", "user_id", account.ID)
		return nil
	}
	observability.RecordMFAEvent(ctx, "verify", "invalid_code")
	return ErrMFAInvalid
}

// Disable requires a current TOTP code; backup codes cannot turn MFA off.
func (s *MFAService) Disable(ctx context.Context, accountID uint, code string) error {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.MFAEnabled || account.MFASecret == nil {
		return ErrConflictState
	}
	if !s.totp.Validate(code, *account.MFASecret, s.now()) {
		observability.RecordMFAEvent(ctx, "disable", "invalid_code")
		return ErrMFAInvalid
	}
	if err := s.accounts.DisableMFA(ctx, accountID); err != nil {
		return fmt.Errorf("disable mfa: %w", err)
	}
	observability.RecordMFAEvent(ctx, "disable", "success")
	observability.Audit(ctx, s.logger, "mfa.disabled", "user_id", accountID)
	return nil
}

func (s *MFAService) BackupCodesRemaining(ctx context.Context, accountID uint) (int64, error) {
	return s.accounts.CountBackupCodes(ctx, accountID)
}

// RegenerateBackupCodes replaces every stored code after a TOTP check.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, accountID uint, code string) ([]string, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.MFAEnabled || account.MFASecret == nil {
		return nil, ErrConflictState
	}
	if !s.totp.Validate(code, *account.MFASecret, s.now()) {
		return nil, ErrMFAInvalid
	}
	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.accounts.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, fmt.Errorf("replace backup codes: %w", err)
	}
	observability.RecordMFAEvent(ctx, "regenerate", "success")
	return codes, nil
}

// Decide reports whether a request carrying claims satisfies the MFA requirement.
// The account is re-read so a disable takes effect immediately.
func (s *MFAService) Decide(ctx context.Context, claims *security.Claims) MFADecision {
	if claims == nil {
		return MFADecision{Reason: MFAReasonNotVerified}
	}
	userID, err := claims.UserID()
	if err != nil {
		return MFADecision{Reason: MFAReasonUnknown}
	}
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil || account.Disabled {
		return MFADecision{Reason: MFAReasonUnknown}
	}
	if !account.MFAEnabled {
		return MFADecision{Reason: MFAReasonNotEnrolled}
	}
	if !claims.MFAVerified {
		return MFADecision{Reason: MFAReasonNotVerified}
	}
	return MFADecision{Allowed: true}
}

func (s *MFAService) newBackupCodes() ([]string, []string, error) {
	codes, err := security.GenerateBackupCodes(s.codeCount)
	if err != nil {
		return nil, nil, fmt.Errorf("generate backup codes: %w", err)
	}
	hashes := make([]string, 0, len(codes))
	for _, c := range codes {
		h, err := s.codes.Hash(c)
		if err != nil {
			return nil, nil, fmt.Errorf("hash backup code: %w", err)
		}
		hashes = append(hashes, h)
	}
	return codes, hashes, nil
}

func (s *MFAService) account(ctx context.Context, id uint) (*domain.Account, error) {
	a, err := s.accounts.FindByID(ctx, id)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}
