// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenVerifier issues and validates the HMAC-signed bearer tokens used by
// both the HTTP API and the streaming gateway handshake.
type TokenVerifier struct {
	secret []byte
	ttl    time.Duration
}

type tokenClaims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

func NewTokenVerifier(secret string, ttl time.Duration) (*TokenVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: empty token secret")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenVerifier{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token for the given user.
func (v *TokenVerifier) Issue(userID uuid.UUID, admin bool) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses and validates a bearer token and returns the caller identity.
func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return Identity{}, fmt.Errorf("invalid subject in token")
	}

	return Identity{UserID: userID, Admin: claims.Admin}, nil
}
