package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

type AccountRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByProviderSubject(ctx context.Context, provider, subject string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	LinkProvider(ctx context.Context, id uint, provider, subject string) error
	UpdatePasswordHash(ctx context.Context, id uint, hash string) error
	// SetPasswordIfEmpty stores hash only when the account has none and reports whether it did.
	SetPasswordIfEmpty(ctx context.Context, id uint, hash string) (bool, error)
	SetPendingMFASecret(ctx context.Context, id uint, secret string) error
	// EnableMFA promotes the pending secret and stores backup code hashes in one
	// transaction. It reports false when MFA was already enabled.
	EnableMFA(ctx context.Context, id uint, secret string, codeHashes []string) (bool, error)
	DisableMFA(ctx context.Context, id uint) error
	ReplaceBackupCodes(ctx context.Context, id uint, codeHashes []string) error
	ListBackupCodes(ctx context.Context, id uint) ([]domain.BackupCode, error)
	// ConsumeBackupCode deletes one code and reports whether this call removed it.
	ConsumeBackupCode(ctx context.Context, accountID, codeID uint) (bool, error)
	CountBackupCodes(ctx context.Context, id uint) (int64, error)
}

type GormAccountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository { return &GormAccountRepository{db: db} }

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *GormAccountRepository) FindByID(ctx context.Context, id uint) (*domain.Account, error) {
	return r.first(ctx, "find_by_id", "id = ?", id)
}

func (r *GormAccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.first(ctx, "find_by_email", "email = ?", NormalizeEmail(email))
}

func (r *GormAccountRepository) FindByProviderSubject(ctx context.Context, provider, subject string) (*domain.Account, error) {
	if provider == "" || subject == "" {
		return nil, ErrAccountNotFound
	}
	return r.first(ctx, "find_by_provider_subject", "provider = ? AND provider_subject = ?", provider, subject)
}

func (r *GormAccountRepository) first(ctx context.Context, op string, query string, args ...any) (*domain.Account, error) {
	var a domain.Account
	err := r.db.WithContext(ctx).Where(query, args...).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrAccountNotFound
	}
	recordAccountOp(ctx, op, err)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormAccountRepository) Create(ctx context.Context, a *domain.Account) error {
	a.Email = NormalizeEmail(a.Email)
	err := r.db.WithContext(ctx).Create(a).Error
	if isUniqueViolation(err) {
		err = ErrAccountExists
	}
	recordAccountOp(ctx, "create", err)
	return err
}

func (r *GormAccountRepository) LinkProvider(ctx context.Context, id uint, provider, subject string) error {
	return r.update(ctx, "link_provider", id, map[string]any{"provider": provider, "provider_subject": subject})
}

func (r *GormAccountRepository) UpdatePasswordHash(ctx context.Context, id uint, hash string) error {
	return r.update(ctx, "update_password_hash", id, map[string]any{"password_hash": hash})
}

func (r *GormAccountRepository) SetPasswordIfEmpty(ctx context.Context, id uint, hash string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND (password_hash IS NULL OR password_hash = '')", id).
		Update("password_hash", hash)
	recordAccountOp(ctx, "set_password_if_empty", res.Error)
	return res.RowsAffected == 1, res.Error
}

func (r *GormAccountRepository) SetPendingMFASecret(ctx context.Context, id uint, secret string) error {
	return r.update(ctx, "set_pending_mfa_secret", id, map[string]any{"mfa_pending_secret": secret})
}

func (r *GormAccountRepository) EnableMFA(ctx context.Context, id uint, secret string, codeHashes []string) (bool, error) {
	enabled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Account{}).
			Where("id = ? AND mfa_enabled = ?", id, false).
			Updates(map[string]any{"mfa_enabled": true, "mfa_secret": secret, "mfa_pending_secret": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := replaceBackupCodes(tx, id, codeHashes); err != nil {
			return err
		}
		enabled = true
		return nil
	})
	recordAccountOp(ctx, "enable_mfa", err)
	return enabled, err
}

func (r *GormAccountRepository) DisableMFA(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Account{}).Where("id = ?", id).
			Updates(map[string]any{"mfa_enabled": false, "mfa_secret": nil, "mfa_pending_secret": nil}).Error; err != nil {
			return err
		}
		return tx.Where("account_id = ?", id).Delete(&domain.BackupCode{}).Error
	})
	recordAccountOp(ctx, "disable_mfa", err)
	return err
}

func (r *GormAccountRepository) ReplaceBackupCodes(ctx context.Context, id uint, codeHashes []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceBackupCodes(tx, id, codeHashes)
	})
	recordAccountOp(ctx, "replace_backup_codes", err)
	return err
}

func replaceBackupCodes(tx *gorm.DB, id uint, codeHashes []string) error {
	if err := tx.Where("account_id = ?", id).Delete(&domain.BackupCode{}).Error; err != nil {
		return err
	}
	if len(codeHashes) == 0 {
		return nil
	}
	codes := make([]domain.BackupCode, 0, len(codeHashes))
	for _, h := range codeHashes {
		codes = append(codes, domain.BackupCode{AccountID: id, CodeHash: h})
	}
	return tx.Create(&codes).Error
}

func (r *GormAccountRepository) ListBackupCodes(ctx context.Context, id uint) ([]domain.BackupCode, error) {
	var codes []domain.BackupCode
	err := r.db.WithContext(ctx).Where("account_id = ?", id).Order("id ASC").Find(&codes).Error
	recordAccountOp(ctx, "list_backup_codes", err)
	return codes, err
}

func (r *GormAccountRepository) ConsumeBackupCode(ctx context.Context, accountID, codeID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND account_id = ?", codeID, accountID).Delete(&domain.BackupCode{})
	recordAccountOp(ctx, "consume_backup_code", res.Error)
	return res.RowsAffected == 1, res.Error
}

func (r *GormAccountRepository) CountBackupCodes(ctx context.Context, id uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.BackupCode{}).Where("account_id = ?", id).Count(&n).Error
	recordAccountOp(ctx, "count_backup_codes", err)
	return n, err
}

func (r *GormAccountRepository) update(ctx context.Context, op string, id uint, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Updates(values)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrAccountNotFound
	}
	recordAccountOp(ctx, op, err)
	return err
}

func recordAccountOp(ctx context.Context, op string, err error) {
	observability.RecordRepositoryOperation(ctx, "account", op, repositoryOutcome(err))
}
