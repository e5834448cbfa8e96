package auth

import (
	"strings"
	"time"

	"payments-portal/internal/apperr"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireSession verifies a session token and injects identity into request context.
// It does not check principal types; that belongs to internal/rbac.
func RequireSession(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			_ = c.Error(apperr.New(apperr.Unauthenticated, "missing bearer token"))
			c.Abort()
			return
		}
		tok := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))

		claims, err := m.Verify(tok, TokenKindSession, time.Now())
		if err != nil {
			_ = c.Error(apperr.Wrap(apperr.Unauthenticated, "invalid session", err))
			c.Abort()
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.Subject, claims.PrincipalType)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience and request logs.
		c.Set("principal_id", claims.Subject)
		c.Set("principal_type", string(claims.PrincipalType))

		c.Next()
	}
}
