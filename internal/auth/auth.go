// Package auth provides bearer-token authentication for the API surface.
// The engine keeps no user store; tokens are minted out of band (see the
// daemon's -mint-token flag) and validated against a shared secret.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims represents the JWT claims for an API client session.
type Claims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration.
type Config struct {
	// Secret is the HMAC signing key
	Secret string

	// TokenDuration is how long minted tokens stay valid (default 24h)
	TokenDuration time.Duration
}

// Service issues and validates API tokens.
type Service struct {
	config Config
}

// NewService creates an authentication service.
func NewService(cfg Config) *Service {
	if cfg.TokenDuration == 0 {
		cfg.TokenDuration = 24 * time.Hour
	}
	return &Service{config: cfg}
}

// GenerateToken mints a signed token for the named client.
func (s *Service) GenerateToken(subject string) (string, error) {
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "livetrack",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

// ValidateToken validates a token string and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
