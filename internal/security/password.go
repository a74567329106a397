package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordBytes = 10
	MaxPasswordBytes = 72
)

var ErrPasswordPolicy = errors.New("password must be between 10 and 72 bytes")

// PasswordHasher hashes and verifies secrets with bcrypt. Callers must not log or
// persist plaintext secrets.
type PasswordHasher struct {
	cost      int
	dummyHash []byte
}

func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer-secret"), cost)
	if err != nil {
		return nil, err
	}
	return &PasswordHasher{cost: cost, dummyHash: dummy}, nil
}

func ValidatePassword(secret string) error {
	if len(secret) < MinPasswordBytes || len(secret) > MaxPasswordBytes {
		return ErrPasswordPolicy
	}
	return nil
}

func (h *PasswordHasher) Hash(secret string) (string, error) {
	if err := ValidatePassword(secret); err != nil {
		return "", err
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify fails closed when hash is absent; an absent hash never accepts any secret.
func (h *PasswordHasher) Verify(hash *string, secret string) bool {
	if hash == nil || *hash == "" {
		h.Equalize(secret)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(secret)) == nil
}

// Equalize burns one comparison so missing accounts cost the same as wrong passwords.
func (h *PasswordHasher) Equalize(secret string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(secret))
}
