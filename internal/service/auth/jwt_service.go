// Package auth issues and validates the bearer tokens that browser-plugin
// clients present when submitting content.
package auth

import (
	"context"
	"time"
)

// DefaultTokenLifetime is the lifetime of issued client tokens.
const DefaultTokenLifetime = 365 * 24 * time.Hour

// JWTService defines operations for client bearer tokens.
type JWTService interface {
	// GenerateToken creates a signed token identifying clientID.
	GenerateToken(ctx context.Context, clientID string) (string, error)

	// ValidateToken checks the signature and time claims of tokenString and
	// returns its claims.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the validated contents of a client token.
type Claims struct {
	ClientID  string    `json:"cid"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
	ID        string    `json:"jti"`
}
