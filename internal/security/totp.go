package security

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	// One step either side of the current one absorbs client clock drift.
	totpSkew = 1
)

type TOTP struct {
	issuer string
	opts   totp.ValidateOpts
}

func NewTOTP(issuer string) *TOTP {
	return &TOTP{
		issuer: issuer,
		opts: totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      totpSkew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
	}
}

// Generate returns a new base32 shared secret and its otpauth:// provisioning URI.
func (t *TOTP) Generate(accountName string) (secret string, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      t.opts.Period,
		Digits:      t.opts.Digits,
		Algorithm:   t.opts.Algorithm,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func (t *TOTP) Validate(code, secret string, now time.Time) bool {
	if secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, now.UTC(), t.opts)
	return err == nil && ok
}

// Code returns the code for the step containing now.
func (t *TOTP) Code(secret string, now time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, now.UTC(), t.opts)
}
