package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenUse distinguishes access from refresh tokens inside the claims so a
// token of one kind is never accepted as the other.
type TokenUse string

const (
	TokenUseAccess  TokenUse = "access"
	TokenUseRefresh TokenUse = "refresh"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrWrongTokenUse = errors.New("token used on the wrong channel")
)

// Claims are the signed statements carried by both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	Email    string   `json:"email"`
	Role     Role     `json:"role"`
	TenantID string   `json:"tenant_id"`
	TokenUse TokenUse `json:"token_use"`
	// Stamp is set on refresh tokens only. It changes whenever the user's
	// password does, so refresh checks it against the stored credential.
	Stamp string `json:"stamp,omitempty"`
}

// Identity is what a token pair binds.
type Identity struct {
	UserID   string
	Email    string
	Role     Role
	TenantID string
	Stamp    string
}

// TokenPair is returned by login, register and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenIssuer signs and verifies HS256 tokens with one secret per channel.
type TokenIssuer struct {
	cfg   TokenConfig
	clock clock.Clock
}

// NewTokenIssuer validates cfg and returns an issuer reading time from clk.
func NewTokenIssuer(cfg TokenConfig, clk clock.Clock) (*TokenIssuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TokenIssuer{cfg: cfg, clock: clk}, nil
}

// AccessTTL is the lifetime of access tokens.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.cfg.AccessTTL }

// RefreshTTL is the lifetime of refresh tokens.
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.cfg.RefreshTTL }

func (t *TokenIssuer) sign(id Identity, use TokenUse, ttl time.Duration, secret []byte) (string, error) {
	now := t.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    id.Email,
		Role:     id.Role,
		TenantID: id.TenantID,
		TokenUse: use,
	}
	if use == TokenUseRefresh {
		claims.Stamp = id.Stamp
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", use, err)
	}
	return signed, nil
}

// IssueAccess signs a short-lived access token.
func (t *TokenIssuer) IssueAccess(id Identity) (string, error) {
	return t.sign(id, TokenUseAccess, t.cfg.AccessTTL, t.cfg.AccessSecret)
}

// IssuePair signs a fresh access and refresh token for id.
func (t *TokenIssuer) IssuePair(id Identity) (*TokenPair, error) {
	access, err := t.IssueAccess(id)
	if err != nil {
		return nil, err
	}
	refresh, err := t.sign(id, TokenUseRefresh, t.cfg.RefreshTTL, t.cfg.RefreshSecret)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(t.cfg.AccessTTL / time.Second),
	}, nil
}

func (t *TokenIssuer) parse(tokenStr string, use TokenUse, secret []byte) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenUse != use {
		return nil, ErrWrongTokenUse
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidToken)
	}
	return claims, nil
}

// ParseAccess verifies an access token's signature, expiry and channel.
func (t *TokenIssuer) ParseAccess(tokenStr string) (*Claims, error) {
	return t.parse(tokenStr, TokenUseAccess, t.cfg.AccessSecret)
}

// ParseRefresh verifies a refresh token against the refresh secret.
func (t *TokenIssuer) ParseRefresh(tokenStr string) (*Claims, error) {
	return t.parse(tokenStr, TokenUseRefresh, t.cfg.RefreshSecret)
}
