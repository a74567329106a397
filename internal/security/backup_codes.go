package security

import (
	"crypto/rand"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	BackupCodeLength   = 10
	DefaultBackupCodes = 10
)

// GenerateBackupCodes returns n formatted codes such as "K7QWM-3XR2P".
func GenerateBackupCodes(n int) ([]string, error) {
	alphabetLen := big.NewInt(int64(len(backupCodeAlphabet)))
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var b strings.Builder
		b.Grow(BackupCodeLength + 1)
		for j := 0; j < BackupCodeLength; j++ {
			if j == BackupCodeLength/2 {
				b.WriteByte('-')
			}
			idx, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return nil, err
			}
			b.WriteByte(backupCodeAlphabet[idx.Int64()])
		}
		codes = append(codes, b.String())
	}
	return codes, nil
}

// CanonicalizeBackupCode upper-cases and strips separators so "k7qwm 3xr2p" and
// "K7QWM-3XR2P" hash identically.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// LooksLikeBackupCode reports whether code has the shape of a backup code, which lets
// callers skip hash comparisons for obvious TOTP input.
func LooksLikeBackupCode(code string) bool {
	c := CanonicalizeBackupCode(code)
	if len(c) != BackupCodeLength {
		return false
	}
	for i := 0; i < len(c); i++ {
		if !strings.ContainsRune(backupCodeAlphabet, rune(c[i])) {
			return false
		}
	}
	return true
}

type BackupCodeHasher struct {
	cost int
}

func NewBackupCodeHasher(cost int) *BackupCodeHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BackupCodeHasher{cost: cost}
}

func (h *BackupCodeHasher) Hash(code string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(CanonicalizeBackupCode(code)), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *BackupCodeHasher) Matches(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(CanonicalizeBackupCode(code))) == nil
}
