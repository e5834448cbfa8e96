package main

import (
	"log/slog"

	"payments-portal/internal/apperr"
	"payments-portal/internal/auth"
	"payments-portal/internal/httpapi"
	"payments-portal/internal/idempotency"
	"payments-portal/internal/metrics"
	"payments-portal/internal/rbac"
	"payments-portal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func newRouter(a *app, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())
	r.Use(apperr.Middleware())

	h := httpapi.Handlers{
		Accounts: a.accounts,
		Payments: a.payments,
		Guard:    a.guard,
		Ledger:   a.ledger,
		Ping:     a.ping,
	}

	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/auth/login", h.Login)

	// Mutating payment routes replay on Idempotency-Key; requests without one pass through.
	idem := idempotency.Middleware(a.idem)

	authed := v1.Group("")
	authed.Use(auth.RequireSession(a.tokens))
	authed.Use(rbac.RequirePrincipal())
	{
		authed.GET("/payments", h.ListPayments)
		authed.GET("/payments/:id", h.GetPayment)
	}

	customers := authed.Group("")
	customers.Use(rbac.RequirePrincipalType(auth.PrincipalCustomer))
	{
		customers.POST("/payments", idem, h.CreatePayment)
	}

	employees := authed.Group("")
	employees.Use(rbac.RequirePrincipalType(auth.PrincipalEmployee))
	{
		employees.POST("/action-tokens", h.IssueActionToken)
		employees.POST("/payments/:id/verify", idem, h.VerifyPayment)
		employees.POST("/payments/:id/submit", idem, h.SubmitPayment)
		employees.GET("/audit-logs", h.ListAuditLogs)
		employees.GET("/audit-logs/verify", h.VerifyAuditChain)
	}

	return r
}
