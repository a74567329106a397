package domain

import "time"

type Account struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	Email            string       `gorm:"size:320;uniqueIndex;not null" json:"email"`
	Name             string       `gorm:"size:200" json:"name"`
	PasswordHash     *string      `gorm:"size:100" json:"-"`
	Provider         string       `gorm:"size:32" json:"provider,omitempty"`
	ProviderSubject  string       `gorm:"size:191;index" json:"-"`
	OrganizationID   string       `gorm:"size:64" json:"organization_id,omitempty"`
	Role             string       `gorm:"size:64" json:"role,omitempty"`
	Disabled         bool         `gorm:"not null;default:false" json:"disabled"`
	MFAEnabled       bool         `gorm:"not null;default:false" json:"mfa_enabled"`
	MFASecret        *string      `gorm:"size:128" json:"-"`
	MFAPendingSecret *string      `gorm:"size:128" json:"-"`
	BackupCodes      []BackupCode `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// HasPassword reports whether the account can authenticate with a local secret.
// Identity-provider-only accounts have no hash.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// BackupCode is a single-use MFA recovery code, stored as a salted hash.
type BackupCode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"index;not null" json:"account_id"`
	CodeHash  string    `gorm:"size:100;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
