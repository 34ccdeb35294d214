// Package auth issues and validates the tokens that publishers present to the
// delivery server.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors returned by the token service.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrMissingClaims    = errors.New("missing required claims")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrScopeDenied      = errors.New("token scope does not allow this operation")
)

// Scopes a publisher token can carry.
const (
	ScopePublish = "publish"
	ScopeRead    = "read"
)

// DefaultExpiry is used when Config.TokenExpiry is zero.
const DefaultExpiry = 24 * time.Hour

// Claims are the validated contents of a token.
type Claims struct {
	Publisher string
	Scopes    []string
	Exp       time.Time
}

// Allows reports whether the claims include scope.
func (c *Claims) Allows(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Config holds token signing configuration.
type Config struct {
	JWTSecret   []byte
	TokenExpiry time.Duration
}

// Service signs and validates HS256 publisher tokens.
type Service struct {
	jwtSecret   []byte
	tokenExpiry time.Duration
	logger      *slog.Logger
}

// NewService creates a token service.
func NewService(cfg *Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Service{
		jwtSecret:   cfg.JWTSecret,
		tokenExpiry: expiry,
		logger:      logger,
	}
}

// GenerateToken signs a token for publisher. With no scopes the token may
// only read.
func (s *Service) GenerateToken(publisher string, scopes ...string) (string, error) {
	if publisher == "" {
		return "", ErrMissingClaims
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeRead}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   publisher,
		"scope": strings.Join(scopes, " "),
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(s.tokenExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.logger.Error("failed to sign token", "error", err)
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks the signature and expiry of tokenString.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	publisher, ok := mapClaims["sub"].(string)
	if !ok || publisher == "" {
		return nil, ErrMissingClaims
	}
	expFloat, ok := mapClaims["exp"].(float64)
	if !ok {
		return nil, ErrMissingClaims
	}
	scope, _ := mapClaims["scope"].(string)

	return &Claims{
		Publisher: publisher,
		Scopes:    strings.Fields(scope),
		Exp:       time.Unix(int64(expFloat), 0),
	}, nil
}

// ExtractBearerToken returns the token from an Authorization header value.
func ExtractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
