package apperr

import (
	"payments-portal/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Middleware renders the last error pushed with c.Error as JSON.
// Handlers must not write a body when they push an error.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		Render(c, c.Errors.Last().Err)
	}
}

// Render logs err and writes its public form. Inner middleware that needs the
// rendered bytes (response capture) calls it directly; Middleware then skips.
func Render(c *gin.Context, err error) {
	status, body := ToPublic(err)

	l := logger.FromGin(c)
	attrs := []any{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"kind", KindOf(err),
		"client_ip", c.ClientIP(),
		"err", err,
	}
	if status >= 500 {
		l.Error("request failed", attrs...)
	} else {
		l.Warn("request rejected", attrs...)
	}

	c.AbortWithStatusJSON(status, body)
}
