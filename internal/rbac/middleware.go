package rbac

import (
	"payments-portal/internal/apperr"
	"payments-portal/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequirePrincipal enforces that an identity exists in context.
// Use it after auth.RequireSession.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, err := auth.PrincipalID(c.Request.Context())
		if err != nil || pid == "" {
			_ = c.Error(apperr.New(apperr.Unauthenticated, "principal required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequirePrincipalType allows access if the caller is any of the provided types.
// Customers and employees never share an endpoint by accident: each route names
// who may call it.
func RequirePrincipalType(allowed ...auth.PrincipalType) gin.HandlerFunc {
	allowedSet := make(map[auth.PrincipalType]struct{}, len(allowed))
	for _, p := range allowed {
		allowedSet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		ptype, err := auth.PrincipalTypeFrom(c.Request.Context())
		if err != nil {
			_ = c.Error(apperr.New(apperr.Unauthenticated, "principal type required"))
			c.Abort()
			return
		}
		if _, ok := allowedSet[ptype]; !ok {
			_ = c.Error(apperr.New(apperr.Forbidden, "not permitted for "+string(ptype)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// IsEmployee reports whether the request was made by an employee.
func IsEmployee(c *gin.Context) bool {
	ptype, err := auth.PrincipalTypeFrom(c.Request.Context())
	return err == nil && ptype == auth.PrincipalEmployee
}
