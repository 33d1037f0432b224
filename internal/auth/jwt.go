// Package auth implements the two credential domains of the service: admin
// principals resolved from address allow-lists, and pipeline workers holding
// short-lived JWTs exchanged for long-lived API keys.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// WorkerClaims is the JWT payload carried by pipeline workers.
type WorkerClaims struct {
	WorkerType  domain.WorkerType `json:"worker_type"`
	Permissions []string          `json:"permissions"`

	jwt.RegisteredClaims
}

// HasPermission reports whether the claims carry the given permission.
func (c WorkerClaims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// JWT signs and verifies worker tokens with an HS256 shared secret.
type JWT struct {
	Secret   []byte
	TokenTTL time.Duration
}

// Sign issues a token for the given worker type and permission set.
func (j JWT) Sign(workerType domain.WorkerType, permissions []string) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(j.TokenTTL)

	claims := WorkerClaims{
		WorkerType:  workerType,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "marketforge",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(j.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, expiresAt, nil
}

// Verify parses and validates a worker token. An expired or otherwise
// invalid token maps to domain.ErrTokenExpired so callers produce the
// token_expired error code uniformly.
func (j JWT) Verify(token string) (WorkerClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &WorkerClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.Secret, nil
	})
	if err != nil {
		return WorkerClaims{}, domain.ErrTokenExpired
	}
	c, ok := parsed.Claims.(*WorkerClaims)
	if !ok || !parsed.Valid {
		return WorkerClaims{}, domain.ErrTokenExpired
	}
	if !c.WorkerType.Valid() {
		return WorkerClaims{}, domain.ErrTokenExpired
	}
	return *c, nil
}
