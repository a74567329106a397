package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "abcdefghijklmnopqrstuvwxyz123456"
	testRefreshSecret = "abcdefghijklmnopqrstuvwxyz654321"
	testMFASecret     = "mfa-abcdefghijklmnopqrstuvwxyz00"
)

func newTestJWTManager(t *testing.T, now func() time.Time) *JWTManager {
	t.Helper()
	mgr, err := NewJWTManager(JWTConfig{
		Issuer:        "iss",
		Audience:      "aud",
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		MFASecret:     testMFASecret,
	})
	require.NoError(t, err)
	return mgr.WithClock(now)
}

func TestNewJWTManagerRejectsWeakOrSharedSecrets(t *testing.T) {
	_, err := NewJWTManager(JWTConfig{AccessSecret: "short", RefreshSecret: testRefreshSecret, MFASecret: testMFASecret})
	require.Error(t, err)

	_, err = NewJWTManager(JWTConfig{AccessSecret: testAccessSecret, RefreshSecret: testAccessSecret, MFASecret: testMFASecret})
	require.Error(t, err)
}

func TestJWTManagerMintVerifyRoundTripPerKind(t *testing.T) {
	mgr := newTestJWTManager(t, time.Now)
	id := Identity{UserID: 42, Email: "a@example.com", Role: "member", OrganizationID: "org-1", Nonce: "n1"}

	access, _, err := mgr.Mint(id, TokenKindAccess, 0)
	require.NoError(t, err)
	claims, err := mgr.Verify(access, TokenKindAccess)
	require.NoError(t, err)
	require.Equal(t, "a@example.com", claims.Email)
	require.Equal(t, "org-1", claims.OrganizationID)
	uid, err := claims.UserID()
	require.NoError(t, err)
	require.Equal(t, uint(42), uid)

	refresh, refreshClaims, err := mgr.Mint(id, TokenKindRefresh, 0)
	require.NoError(t, err)
	require.Equal(t, "n1", refreshClaims.Nonce)
	_, err = mgr.Verify(refresh, TokenKindRefresh)
	require.NoError(t, err)

	mfa, _, err := mgr.Mint(id, TokenKindMFA, 0)
	require.NoError(t, err)
	mfaClaims, err := mgr.Verify(mfa, TokenKindMFA)
	require.NoError(t, err)
	require.True(t, mfaClaims.MFAPending)
	require.Empty(t, mfaClaims.Email)
}

func TestJWTManagerRejectsCrossKindTokens(t *testing.T) {
	mgr := newTestJWTManager(t, time.Now)
	id := Identity{UserID: 7, Nonce: "n"}

	mfa, _, err := mgr.Mint(id, TokenKindMFA, 0)
	require.NoError(t, err)
	refresh, _, err := mgr.Mint(id, TokenKindRefresh, 0)
	require.NoError(t, err)

	for _, kind := range []TokenKind{TokenKindAccess, TokenKindRefresh} {
		_, err := mgr.Verify(mfa, kind)
		require.ErrorIs(t, err, ErrInvalidToken, "mfa token accepted as %s", kind)
	}
	_, err = mgr.Verify(refresh, TokenKindAccess)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManagerRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	mgr := newTestJWTManager(t, func() time.Time { return now })

	raw, _, err := mgr.Mint(Identity{UserID: 1}, TokenKindMFA, 0)
	require.NoError(t, err)

	now = now.Add(DefaultMFATTL + time.Second)
	_, err = mgr.Verify(raw, TokenKindMFA)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManagerRejectsForeignSignature(t *testing.T) {
	mgr := newTestJWTManager(t, time.Now)
	other, err := NewJWTManager(JWTConfig{
		Issuer:        "iss",
		Audience:      "aud",
		AccessSecret:  strings.Repeat("x", 32),
		RefreshSecret: strings.Repeat("y", 32),
		MFASecret:     strings.Repeat("z", 32),
	})
	require.NoError(t, err)

	raw, _, err := other.Mint(Identity{UserID: 1}, TokenKindAccess, 0)
	require.NoError(t, err)
	_, err = mgr.Verify(raw, TokenKindAccess)
	require.True(t, errors.Is(err, ErrInvalidToken))

	_, err = mgr.Verify("not-a-jwt", TokenKindAccess)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManagerRefreshRequiresNonce(t *testing.T) {
	mgr := newTestJWTManager(t, time.Now)
	_, _, err := mgr.Mint(Identity{UserID: 1}, TokenKindRefresh, 0)
	require.Error(t, err)
}

func TestJWTManagerDistinctNoncesYieldDistinctHashes(t *testing.T) {
	mgr := newTestJWTManager(t, time.Now)
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		nonce, err := NewRefreshNonce()
		require.NoError(t, err)
		raw, _, err := mgr.Mint(Identity{UserID: 9, Nonce: nonce}, TokenKindRefresh, 0)
		require.NoError(t, err)
		h := HashRefreshToken(raw, "pepper")
		require.NotContains(t, h, raw)
		_, dup := seen[h]
		require.False(t, dup)
		seen[h] = struct{}{}
	}
}
