package domain

import "time"

// Reasons recorded when a session is marked used.
const (
	SessionUsedRotated             = "rotated"
	SessionUsedFingerprintMismatch = "fingerprint_mismatch"
)

// Session is one issued refresh token. Only the hash of the token is stored.
type Session struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"index;not null" json:"user_id"`
	RefreshTokenHash string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	TokenID          string     `gorm:"size:64;index" json:"-"`
	Used             bool       `gorm:"index;not null;default:false" json:"used"`
	UsedAt           *time.Time `json:"used_at,omitempty"`
	UsedReason       string     `gorm:"size:32" json:"used_reason,omitempty"`
	UserAgent        string     `gorm:"size:512" json:"user_agent"`
	IP               string     `gorm:"size:64" json:"ip"`
	Fingerprint      string     `gorm:"size:128" json:"-"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
}

// Live reports whether the session can still be exchanged for new tokens at now.
func (s *Session) Live(now time.Time) bool {
	return !s.Used && s.ExpiresAt.After(now)
}

// Rotated reports whether the session was consumed by a successful refresh, as opposed
// to being burned after a failed check. Replaying a rotated token is reuse.
func (s *Session) Rotated() bool {
	return s.Used && (s.UsedReason == "" || s.UsedReason == SessionUsedRotated)
}
