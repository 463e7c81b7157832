package middleware

import (
	"context"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/mdm-catalog/auth"
	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating bearer tokens
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware resolves the caller of each request
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAuth rejects requests without a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := chimw.GetReqID(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("user_id", claims.UserID.String()))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractTenant turns the validated claims into the request's tenant.Caller.
// It must run after RequireAuth.
func (m *AuthMiddleware) ExtractTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := chimw.GetReqID(ctx)

		claims := GetClaimsFromContext(ctx)
		if claims == nil {
			m.logger.Error("claims not found in context",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}

		caller := tenant.Caller{
			TenantID:   claims.TenantID,
			UserID:     claims.UserID,
			SuperAdmin: claims.SuperAdmin,
			RequestID:  requestID,
		}
		ctx = tenant.WithCaller(ctx, caller)

		m.logger.Debug("tenant information extracted",
			zap.String("request_id", requestID),
			zap.String("tenant_id", caller.TenantID.String()),
			zap.Bool("super_admin", caller.SuperAdmin))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSuperAdmin rejects callers without the super-admin flag.
// It must run after ExtractTenant.
func (m *AuthMiddleware) RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := tenant.FromContext(r.Context())
		if caller.Anonymous() {
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}
		if !caller.SuperAdmin {
			m.logger.Warn("super-admin required",
				zap.String("request_id", caller.RequestID),
				zap.String("tenant_id", caller.TenantID.String()),
				zap.String("path", r.URL.Path))
			_ = utils.WriteForbidden(w, "Super-admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
