package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// TestTokenRoundTrip checks that a generated token validates to the same publisher.
func TestTokenRoundTrip(t *testing.T) {
	svc := NewService(&Config{JWTSecret: testSecret, TokenExpiry: time.Hour}, nil)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("token round-trip keeps publisher and scopes", prop.ForAll(
		func(publisher string, publish bool) bool {
			scopes := []string{ScopeRead}
			if publish {
				scopes = append(scopes, ScopePublish)
			}
			token, err := svc.GenerateToken(publisher, scopes...)
			if err != nil {
				return false
			}
			claims, err := svc.ValidateToken(token)
			if err != nil {
				return false
			}
			return claims.Publisher == publisher &&
				claims.Allows(ScopeRead) &&
				claims.Allows(ScopePublish) == publish
		},
		gen.Identifier(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestGenerateToken_DefaultsToRead(t *testing.T) {
	svc := NewService(&Config{JWTSecret: testSecret}, nil)
	token, err := svc.GenerateToken("ci")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Allows(ScopePublish) || !claims.Allows(ScopeRead) {
		t.Errorf("scopes = %v, want [read]", claims.Scopes)
	}
	if time.Until(claims.Exp) < 23*time.Hour {
		t.Errorf("Exp = %v, want default expiry", claims.Exp)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := NewService(&Config{JWTSecret: testSecret, TokenExpiry: time.Hour}, nil)
	other := NewService(&Config{JWTSecret: []byte("another-secret-another-secret-00"), TokenExpiry: time.Hour}, nil)

	foreign, err := other.GenerateToken("ci", ScopePublish)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateToken(foreign); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("foreign token = %v, want ErrInvalidSignature", err)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ci",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := expired.SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateToken(signed); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expired token = %v, want ErrExpiredToken", err)
	}

	if _, err := svc.ValidateToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.GenerateToken(""); !errors.Is(err, ErrMissingClaims) {
		t.Errorf("empty publisher = %v, want ErrMissingClaims", err)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for header, want := range tests {
		if got := ExtractBearerToken(header); got != want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
