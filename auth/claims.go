package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenClaims is the wire form of a catalog bearer token.
type TokenClaims struct {
	jwt.RegisteredClaims
	TenantID   string `json:"tenant_id"`
	SuperAdmin bool   `json:"super_admin"`
}

// Claims are validated token claims with parsed identifiers.
type Claims struct {
	UserID     uuid.UUID
	TenantID   uuid.UUID
	SuperAdmin bool
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// parseClaims converts TokenClaims to Claims with proper type conversions
func parseClaims(claims *TokenClaims) (*Claims, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid sub UUID: %w", err)
	}

	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant_id UUID: %w", err)
	}

	parsed := &Claims{
		UserID:     userID,
		TenantID:   tenantID,
		SuperAdmin: claims.SuperAdmin,
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}

	return parsed, nil
}
