package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

func testIssuer(t *testing.T) (*TokenIssuer, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "hms",
	}, clk)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer, clk
}

var testIdentity = Identity{UserID: "user-1", Email: "doc@acme.test", Role: RoleDoctor, TenantID: "tenant-1", Stamp: "a1b2c3d4e5f60718"}

func TestNewTokenIssuer_RejectsSharedSecret(t *testing.T) {
	_, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  []byte("same"),
		RefreshSecret: []byte("same"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}, nil)
	if err == nil {
		t.Fatal("expected error for shared secrets")
	}
}

func TestIssuePair_RoundTrip(t *testing.T) {
	issuer, _ := testIssuer(t)
	pair, err := issuer.IssuePair(testIdentity)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.ExpiresIn != 900 || pair.TokenType != "Bearer" {
		t.Errorf("unexpected pair metadata: %+v", pair)
	}

	access, err := issuer.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if access.Subject != "user-1" || access.Email != "doc@acme.test" || access.Role != RoleDoctor || access.TenantID != "tenant-1" {
		t.Errorf("claims not bound: %+v", access)
	}

	refresh, err := issuer.ParseRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("ParseRefresh: %v", err)
	}
	if refresh.ID == access.ID {
		t.Error("expected distinct token ids")
	}
	if refresh.Stamp != testIdentity.Stamp {
		t.Errorf("refresh stamp = %q, want %q", refresh.Stamp, testIdentity.Stamp)
	}
	if access.Stamp != "" {
		t.Errorf("access token must not carry the credential stamp, got %q", access.Stamp)
	}
}

func TestParse_ChannelsAreSeparate(t *testing.T) {
	issuer, _ := testIssuer(t)
	pair, _ := issuer.IssuePair(testIdentity)

	if _, err := issuer.ParseAccess(pair.RefreshToken); err == nil {
		t.Error("refresh token must not pass as access token")
	}
	if _, err := issuer.ParseRefresh(pair.AccessToken); err == nil {
		t.Error("access token must not pass as refresh token")
	}
}

func TestParseRefresh_WrongUseSameSecret(t *testing.T) {
	issuer, clk := testIssuer(t)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Subject:   "user-1",
			Issuer:    "hms",
			IssuedAt:  jwt.NewNumericDate(clk.Now()),
			ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
		},
		TokenUse: TokenUseAccess,
	}
	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("refresh-secret"))

	if _, err := issuer.ParseRefresh(forged); !errors.Is(err, ErrWrongTokenUse) {
		t.Errorf("expected ErrWrongTokenUse, got %v", err)
	}
}

func TestParse_Expiry(t *testing.T) {
	issuer, clk := testIssuer(t)
	pair, _ := issuer.IssuePair(testIdentity)

	clk.Add(16 * time.Minute)
	if _, err := issuer.ParseAccess(pair.AccessToken); err == nil {
		t.Error("expected access token to expire after 15m")
	}
	if _, err := issuer.ParseRefresh(pair.RefreshToken); err != nil {
		t.Errorf("refresh token should still be valid: %v", err)
	}

	clk.Add(7 * 24 * time.Hour)
	if _, err := issuer.ParseRefresh(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected refresh token to expire, got %v", err)
	}
}

func TestParse_RejectsTampering(t *testing.T) {
	issuer, _ := testIssuer(t)
	pair, _ := issuer.IssuePair(testIdentity)

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	if _, err := issuer.ParseAccess(tampered); err == nil {
		t.Error("expected signature failure")
	}
	if _, err := issuer.ParseAccess("not-a-jwt"); err == nil {
		t.Error("expected malformed token failure")
	}
}

func TestParse_RejectsNoneAlgorithm(t *testing.T) {
	issuer, clk := testIssuer(t)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(clk.Now()),
			ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
		},
		TokenUse: TokenUseAccess,
	}
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := issuer.ParseAccess(unsigned); err == nil {
		t.Error("expected alg=none to be rejected")
	}
}
