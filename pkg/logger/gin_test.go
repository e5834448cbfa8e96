package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_AssignsRequestIDAndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter("dev", &buf)))
	r.GET("/x", func(c *gin.Context) {
		if From(c.Request.Context()) == nil {
			t.Fatalf("expected logger in request context")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("expected request id header")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id"`)) {
		t.Fatalf("expected request_id in log line, got %s", buf.String())
	}
}

func TestMiddleware_KeepsCallerRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware(Discard()))
	r.GET("/x", func(c *gin.Context) {
		if RequestID(c) != "abc" {
			t.Fatalf("expected caller request id, got %q", RequestID(c))
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get(HeaderRequestID) != "abc" {
		t.Fatalf("expected echoed request id")
	}
}

func TestFromOr_PrefersRequestLogger(t *testing.T) {
	var reqBuf, defBuf bytes.Buffer
	req := NewWithWriter("dev", &reqBuf).With("request_id", "rid-1")
	def := NewWithWriter("dev", &defBuf)

	FromOr(With(context.Background(), req), def).Info("scoped")
	if !bytes.Contains(reqBuf.Bytes(), []byte(`"request_id":"rid-1"`)) || defBuf.Len() != 0 {
		t.Fatalf("expected request logger to be used, got req=%s def=%s", reqBuf.String(), defBuf.String())
	}

	FromOr(context.Background(), def).Info("fallback")
	if !bytes.Contains(defBuf.Bytes(), []byte("fallback")) {
		t.Fatalf("expected fallback logger to be used, got %s", defBuf.String())
	}
	if FromOr(context.Background(), nil) == nil {
		t.Fatalf("expected slog default for nil fallback")
	}
}
