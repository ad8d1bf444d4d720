// Package auth validates the bearer tokens players present to the gateway
// and the RPC surface.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable indicates the account service is unreachable. Callers may
	// choose to fail open (allow) or fail closed (reject).
	ErrUnavailable = errors.New("auth: unavailable")
)

// Identity represents an authenticated player.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Validator validates authentication tokens.
type Validator interface {
	// Validate checks if a token is valid and returns the player identity.
	// Returns:
	//   - (*Identity, nil) if token is valid
	//   - (nil, ErrInvalidToken) if token is definitively invalid
	//   - (nil, ErrUnavailable) if the account service is unavailable
	Validate(ctx context.Context, token string) (*Identity, error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	DisplayName string `json:"name,omitempty"`
}

// JWTValidator verifies HS256 tokens minted by the account service against a
// shared secret. The subject claim carries the user id.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: claims.Subject, DisplayName: claims.DisplayName}, nil
}

// StaticValidator maps fixed tokens to identities. Used in tests and local
// setups without an account service.
type StaticValidator map[string]Identity

func (s StaticValidator) Validate(_ context.Context, token string) (*Identity, error) {
	identity, ok := s[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &identity, nil
}
