// Package tenant carries the identity of the caller of a catalog operation.
//
// Engine operations take a Caller explicitly. The context helpers exist only
// for the HTTP boundary, where middleware resolves the caller once per request.
package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Caller identifies who performs an operation.
type Caller struct {
	TenantID   uuid.UUID
	UserID     uuid.UUID
	SuperAdmin bool

	// RequestID correlates audit entries with the inbound request, if any.
	RequestID string
}

// Anonymous reports whether no authenticated tenant is attached.
func (c Caller) Anonymous() bool {
	return c.TenantID == uuid.Nil
}

// Owns reports whether the caller's tenant is tenantID.
func (c Caller) Owns(tenantID uuid.UUID) bool {
	return !c.Anonymous() && c.TenantID == tenantID
}

type contextKey struct{}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the caller stored in ctx, or a zero (anonymous) Caller.
func FromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(contextKey{}).(Caller); ok {
		return c
	}
	return Caller{}
}
