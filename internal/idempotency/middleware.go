package idempotency

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"payments-portal/internal/apperr"
	"payments-portal/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	HeaderIdempotencyKey       = "Idempotency-Key"
	HeaderLegacyIdempotencyKey = "X-Idempotency-Key"
	HeaderReplayed             = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

// Middleware makes the wrapped route safe to retry. Requests without a key
// pass through. The slot is scoped by method, path and principal,
// so two callers never share a slot.
//
// Must run after authentication and inside apperr.Middleware.
func Middleware(cache *Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			key = strings.TrimSpace(c.GetHeader(HeaderLegacyIdempotencyKey))
		}
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			_ = c.Error(apperr.Wrap(apperr.InvalidRequest, "unreadable request body", err))
			c.Abort()
			return
		}
		if len(body) > maxBodyBytes {
			_ = c.Error(apperr.New(apperr.InvalidRequest, "request body too large"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		lookup, err := cache.Remember(c.Request.Context(), scopeOf(c), key, body)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		if lookup.Hit != nil {
			c.Header(HeaderReplayed, "true")
			c.Data(lookup.Hit.Status, lookup.Hit.ContentType, lookup.Hit.Body)
			c.Abort()
			return
		}

		w := &responseBodyWriter{ResponseWriter: c.Writer}
		c.Writer = w

		defer func() {
			if p := recover(); p != nil {
				_ = lookup.Abandon(c.Request.Context())
				panic(p)
			}
		}()

		c.Next()

		// Render pushed errors here so the bytes are captured with the response.
		if len(c.Errors) > 0 && !w.Written() {
			apperr.Render(c, c.Errors.Last().Err)
		}

		ctx := c.Request.Context()
		if w.Status() >= http.StatusInternalServerError {
			// Server-side failures stay retryable under the same key.
			if err := lookup.Abandon(ctx); err != nil {
				logger.FromGin(c).Warn("idempotency release failed", "err", err)
			}
			return
		}
		if err := lookup.Commit(ctx, Response{
			Status:      w.Status(),
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}); err != nil {
			logger.FromGin(c).Warn("idempotency commit failed", "err", err)
		}
	}
}

func scopeOf(c *gin.Context) string {
	return c.Request.Method + " " + c.Request.URL.Path + " " + c.GetString("principal_id")
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
