package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
	TokenKindMFA     TokenKind = "mfa"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultMFATTL     = 5 * time.Minute

	MinSigningSecretLength = 32
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the input claim set for a mint. Nonce is required for refresh tokens
// and ignored for the other kinds. TokenID, when set, becomes the jti.
type Identity struct {
	UserID         uint
	Email          string
	OrganizationID string
	Role           string
	MFAVerified    bool
	Nonce          string
	TokenID        string
}

type Claims struct {
	TokenType      string `json:"token_type"`
	Email          string `json:"email,omitempty"`
	OrganizationID string `json:"org_id,omitempty"`
	Role           string `json:"role,omitempty"`
	MFAVerified    bool   `json:"mfa,omitempty"`
	MFAPending     bool   `json:"mfa_pending,omitempty"`
	Nonce          string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}

type JWTConfig struct {
	Issuer        string
	Audience      string
	AccessSecret  string
	RefreshSecret string
	MFASecret     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFATTL        time.Duration
}

type JWTManager struct {
	issuer   string
	audience string
	secrets  map[TokenKind][]byte
	ttls     map[TokenKind]time.Duration
	now      func() time.Time
}

func NewJWTManager(cfg JWTConfig) (*JWTManager, error) {
	secrets := map[TokenKind][]byte{
		TokenKindAccess:  []byte(cfg.AccessSecret),
		TokenKindRefresh: []byte(cfg.RefreshSecret),
		TokenKindMFA:     []byte(cfg.MFASecret),
	}
	for kind, secret := range secrets {
		if len(secret) < MinSigningSecretLength {
			return nil, fmt.Errorf("%s signing secret must be at least %d bytes", kind, MinSigningSecretLength)
		}
	}
	if cfg.AccessSecret == cfg.RefreshSecret || cfg.AccessSecret == cfg.MFASecret || cfg.RefreshSecret == cfg.MFASecret {
		return nil, errors.New("signing secrets must be distinct per token kind")
	}
	return &JWTManager{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		secrets:  secrets,
		ttls: map[TokenKind]time.Duration{
			TokenKindAccess:  durationOr(cfg.AccessTTL, DefaultAccessTTL),
			TokenKindRefresh: durationOr(cfg.RefreshTTL, DefaultRefreshTTL),
			TokenKindMFA:     durationOr(cfg.MFATTL, DefaultMFATTL),
		},
		now: time.Now,
	}, nil
}

// WithClock replaces the time source used for iat/exp and for expiry checks.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *JWTManager) TTL(kind TokenKind) time.Duration {
	return m.ttls[kind]
}

// Mint signs a token of the given kind. A non-positive ttl selects the kind's default.
func (m *JWTManager) Mint(id Identity, kind TokenKind, ttl time.Duration) (string, *Claims, error) {
	secret, ok := m.secrets[kind]
	if !ok {
		return "", nil, fmt.Errorf("unknown token kind %q", kind)
	}
	if id.UserID == 0 {
		return "", nil, errors.New("identity has no user id")
	}
	if ttl <= 0 {
		ttl = m.ttls[kind]
	}
	now := m.now()
	jti := id.TokenID
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := &Claims{
		TokenType: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(id.UserID), 10),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	switch kind {
	case TokenKindAccess:
		claims.Email = id.Email
		claims.OrganizationID = id.OrganizationID
		claims.Role = id.Role
		claims.MFAVerified = id.MFAVerified
	case TokenKindRefresh:
		if id.Nonce == "" {
			return "", nil, errors.New("refresh token requires a nonce")
		}
		claims.Nonce = id.Nonce
		claims.MFAVerified = id.MFAVerified
	case TokenKindMFA:
		claims.MFAPending = true
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

// Verify checks signature, issuer, audience, expiry and the kind-specific markers.
func (m *JWTManager) Verify(raw string, kind TokenKind) (*Claims, error) {
	secret, ok := m.secrets[kind]
	if !ok {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != string(kind) {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.TokenType)
	}
	switch kind {
	case TokenKindRefresh:
		if claims.Nonce == "" {
			return nil, fmt.Errorf("%w: missing nonce", ErrInvalidToken)
		}
	case TokenKindMFA:
		if !claims.MFAPending {
			return nil, fmt.Errorf("%w: missing mfa marker", ErrInvalidToken)
		}
	default:
		if claims.MFAPending {
			return nil, fmt.Errorf("%w: mfa marker on %s token", ErrInvalidToken, kind)
		}
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.Verify(raw, TokenKindAccess)
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
