package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

// LoginOutcome is either TokensIssued or MFAPending.
type LoginOutcome interface {
	isLoginOutcome()
}

type TokensIssued struct {
	Tokens *TokenPair
}

// MFAPending carries the intermediate token accepted only by MFACompleteLogin.
type MFAPending struct {
	MFAToken  string
	ExpiresIn int64
}

func (TokensIssued) isLoginOutcome() {}
func (MFAPending) isLoginOutcome()   {}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// ExternalIdentity is an identity already verified by an external provider.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

type AuthService struct {
	accounts  repository.AccountRepository
	passwords *security.PasswordHasher
	jwtMgr    *security.JWTManager
	tokens    *TokenService
	mfa       *MFAService
	logger    *slog.Logger
}

func NewAuthService(
	accounts repository.AccountRepository,
	passwords *security.PasswordHasher,
	jwtMgr *security.JWTManager,
	tokens *TokenService,
	mfa *MFAService,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{accounts: accounts, passwords: passwords, jwtMgr: jwtMgr, tokens: tokens, mfa: mfa, logger: logger}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta ClientMetadata) (*TokenPair, error) {
	email := repository.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidCredentials
	}
	hash, err := s.passwords.Hash(in.Password)
	if errors.Is(err, security.ErrPasswordPolicy) {
		return nil, ErrPasswordPolicy
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := &domain.Account{Email: email, Name: strings.TrimSpace(in.Name), PasswordHash: &hash}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	observability.Audit(ctx, s.logger, "account.registered", "user_id", account.ID)
	return s.tokens.Issue(ctx, identityOf(account, false), meta)
}

// Login verifies a password. Missing, disabled and wrong-password accounts all return
// ErrInvalidCredentials after the same amount of hashing work.
func (s *AuthService) Login(ctx context.Context, email, secret string, meta ClientMetadata) (LoginOutcome, error) {
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("find account: %w", err)
		}
		s.passwords.Equalize(secret)
		observability.RecordAuthLogin(ctx, "password", "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if !s.passwords.Verify(account.PasswordHash, secret) || account.Disabled {
		observability.RecordAuthLogin(ctx, "password", "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	return s.completeAuthentication(ctx, account, meta, "password")
}

// LoginWithIdentity signs in a verified external identity, linking it to an existing
// account by verified email or creating a password-less account.
func (s *AuthService) LoginWithIdentity(ctx context.Context, ext ExternalIdentity, meta ClientMetadata) (LoginOutcome, error) {
	if ext.Provider == "" || ext.Subject == "" {
		return nil, ErrInvalidCredentials
	}
	account, err := s.resolveExternal(ctx, ext)
	if err != nil {
		return nil, err
	}
	if account.Disabled {
		observability.RecordAuthLogin(ctx, ext.Provider, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	return s.completeAuthentication(ctx, account, meta, ext.Provider)
}

func (s *AuthService) resolveExternal(ctx context.Context, ext ExternalIdentity) (*domain.Account, error) {
	account, err := s.accounts.FindByProviderSubject(ctx, ext.Provider, ext.Subject)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("find account by provider: %w", err)
	}
	if !ext.EmailVerified || ext.Email == "" {
		return nil, ErrInvalidCredentials
	}
	account, err = s.accounts.FindByEmail(ctx, ext.Email)
	switch {
	case err == nil:
		if account.ProviderSubject != "" {
			return nil, ErrConflictState
		}
		if err := s.accounts.LinkProvider(ctx, account.ID, ext.Provider, ext.Subject); err != nil {
			return nil, fmt.Errorf("link provider: %w", err)
		}
		account.Provider, account.ProviderSubject = ext.Provider, ext.Subject
		observability.Audit(ctx, s.logger, "account.provider_linked", "user_id", account.ID, "provider", ext.Provider)
		return account, nil
	case errors.Is(err, repository.ErrAccountNotFound):
		account = &domain.Account{
			Email:           ext.Email,
			Name:            ext.Name,
			Provider:        ext.Provider,
			ProviderSubject: ext.Subject,
		}
		if err := s.accounts.Create(ctx, account); err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		observability.Audit(ctx, s.logger, "account.registered", "user_id", account.ID, "provider", ext.Provider)
		return account, nil
	default:
		return nil, fmt.Errorf("find account by email: %w", err)
	}
}

func (s *AuthService) completeAuthentication(ctx context.Context, account *domain.Account, meta ClientMetadata, method string) (LoginOutcome, error) {
	if account.MFAEnabled {
		raw, _, err := s.jwtMgr.Mint(security.Identity{UserID: account.ID}, security.TokenKindMFA, 0)
		if err != nil {
			return nil, fmt.Errorf("mint mfa token: %w", err)
		}
		observability.RecordAuthLogin(ctx, method, "mfa_pending")
		return MFAPending{MFAToken: raw, ExpiresIn: int64(s.jwtMgr.TTL(security.TokenKindMFA).Seconds())}, nil
	}
	pair, err := s.tokens.Issue(ctx, identityOf(account, false), meta)
	if err != nil {
		observability.RecordAuthLogin(ctx, method, "error")
		return nil, err
	}
	observability.RecordAuthLogin(ctx, method, "success")
	observability.Audit(ctx, s.logger, "auth.login", "user_id", account.ID, "method", method, "ip", meta.IP)
	return TokensIssued{Tokens: pair}, nil
}

// MFACompleteLogin exchanges an intermediate token and a code for full tokens. Every
// failure is reported as ErrMFAInvalid.
func (s *AuthService) MFACompleteLogin(ctx context.Context, mfaToken, code string, meta ClientMetadata) (*TokenPair, error) {
	claims, err := s.jwtMgr.Verify(mfaToken, security.TokenKindMFA)
	if err != nil {
		observability.RecordMFAEvent(ctx, "complete_login", "invalid_token")
		return nil, ErrMFAInvalid
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrMFAInvalid
	}
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrMFAInvalid
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account.Disabled {
		return nil, ErrMFAInvalid
	}
	if err := s.mfa.verify(ctx, account, code); err != nil {
		return nil, err
	}
	pair, err := s.tokens.Issue(ctx, identityOf(account, true), meta)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "mfa", "success")
	observability.Audit(ctx, s.logger, "auth.login", "user_id", account.ID, "method", "mfa", "ip", meta.IP)
	return pair, nil
}

// Refresh rotates a refresh token. Reuse and fingerprint failures surface as
// ErrInvalidOrExpiredToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta ClientMetadata) (*TokenPair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken, meta, s.identityFor)
	switch {
	case err == nil:
		observability.RecordAuthRefresh(ctx, "success")
		return pair, nil
	case errors.Is(err, errReuseDetected):
		observability.RecordAuthRefresh(ctx, "reuse_detected")
		return nil, ErrInvalidOrExpiredToken
	case errors.Is(err, errFingerprintMismatch):
		observability.RecordAuthRefresh(ctx, "fingerprint_mismatch")
		return nil, ErrInvalidOrExpiredToken
	case errors.Is(err, ErrInvalidOrExpiredToken):
		observability.RecordAuthRefresh(ctx, "invalid")
		return nil, err
	default:
		observability.RecordAuthRefresh(ctx, "error")
		return nil, err
	}
}

func (s *AuthService) identityFor(ctx context.Context, userID uint) (security.Identity, error) {
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return security.Identity{}, err
	}
	if account.Disabled {
		return security.Identity{}, ErrInvalidCredentials
	}
	return identityOf(account, false), nil
}

// Logout removes the session of one refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, accountID uint, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if _, err := s.tokens.RevokeToken(ctx, accountID, refreshToken); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	observability.RecordAuthLogout(ctx, "single")
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, accountID uint) (int64, error) {
	n, err := s.tokens.RevokeAll(ctx, accountID)
	if err != nil {
		return n, fmt.Errorf("revoke sessions: %w", err)
	}
	observability.RecordAuthLogout(ctx, "all")
	observability.Audit(ctx, s.logger, "auth.logout_all", "user_id", accountID, "revoked", n)
	return n, nil
}

func (s *AuthService) MFASetup(ctx context.Context, accountID uint) (*MFASetupResult, error) {
	return s.mfa.Setup(ctx, accountID)
}

func (s *AuthService) MFAEnable(ctx context.Context, accountID uint, code string) ([]string, error) {
	return s.mfa.Enable(ctx, accountID, code)
}

func (s *AuthService) MFADisable(ctx context.Context, accountID uint, code string) error {
	return s.mfa.Disable(ctx, accountID, code)
}

// SetPassword adds a password to an account that has none.
func (s *AuthService) SetPassword(ctx context.Context, accountID uint, password string) error {
	hash, err := s.passwords.Hash(password)
	if errors.Is(err, security.ErrPasswordPolicy) {
		return ErrPasswordPolicy
	}
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ok, err := s.accounts.SetPasswordIfEmpty(ctx, accountID, hash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if !ok {
		if _, err := s.account(ctx, accountID); err != nil {
			return err
		}
		return ErrConflictState
	}
	observability.Audit(ctx, s.logger, "account.password_set", "user_id", accountID)
	return nil
}

// ChangePassword verifies the current password, stores the new one and revokes every
// session of the account.
func (s *AuthService) ChangePassword(ctx context.Context, accountID uint, current, next string) error {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return err
	}
	if !s.passwords.Verify(account.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	hash, err := s.passwords.Hash(next)
	if errors.Is(err, security.ErrPasswordPolicy) {
		return ErrPasswordPolicy
	}
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if _, err := s.tokens.RevokeAll(ctx, accountID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	observability.Audit(ctx, s.logger, "account.password_changed", "user_id", accountID)
	return nil
}

func (s *AuthService) Account(ctx context.Context, accountID uint) (*domain.Account, error) {
	return s.account(ctx, accountID)
}

func (s *AuthService) account(ctx context.Context, id uint) (*domain.Account, error) {
	a, err := s.accounts.FindByID(ctx, id)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

func identityOf(a *domain.Account, mfaVerified bool) security.Identity {
	return security.Identity{
		UserID:         a.ID,
		Email:          a.Email,
		OrganizationID: a.OrganizationID,
		Role:           a.Role,
		MFAVerified:    mfaVerified,
	}
}
