package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/observability"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

const tenantContextKey = "auth_tenant_context"

// AuthMiddleware validates bearer tokens and stores the caller's TenantContext.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(tenantContextKey, claims.TenantContext(observability.RequestID(c)))
	return c.Next()
}

// TenantContextFrom retrieves the authenticated caller.
func TenantContextFrom(c *fiber.Ctx) (domain.TenantContext, bool) {
	tc, ok := c.Locals(tenantContextKey).(domain.TenantContext)
	return tc, ok
}
