// Package auth issues and verifies the bearer tokens that identify a video owner.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultTokenTTL = 24 * time.Hour
	issuer          = "vidiox"
)

var (
	ErrNoSigningKey = errors.New("cannot sign token without a secret")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// TokenManager signs HS256 tokens whose subject is the owner id.
type TokenManager struct {
	key []byte
	now func() time.Time
}

func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{key: []byte(secret), now: time.Now}
}

// Issue returns a signed token for subject valid for ttl (DefaultTokenTTL if zero).
func (m *TokenManager) Issue(subject string, ttl time.Duration) (string, error) {
	if len(m.key) == 0 {
		return "", ErrNoSigningKey
	}
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := m.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

// Verify checks signature, issuer and expiry and returns the subject.
func (m *TokenManager) Verify(token string) (string, error) {
	if len(m.key) == 0 {
		return "", ErrNoSigningKey
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
