package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"payments-portal/internal/accounts"
	"payments-portal/internal/apperr"
	"payments-portal/internal/audit"
	"payments-portal/internal/auth"
	"payments-portal/internal/authz"
	"payments-portal/internal/payments"
	"payments-portal/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
// Errors are pushed with c.Error and rendered by apperr.Middleware.
type Handlers struct {
	Accounts *accounts.Service
	Payments *payments.Service
	Guard    *authz.Guard
	Ledger   *audit.Ledger
	// Ping checks the backing store; nil means always healthy.
	Ping func(ctx context.Context) error
}

const maxUserAgentLength = 512

func provenance(c *gin.Context) audit.Provenance {
	return audit.Provenance{IPAddress: c.ClientIP(), UserAgent: truncate(c.Request.UserAgent(), maxUserAgentLength)}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, apperr.Wrap(apperr.InvalidRequest, "invalid json", err))
		return false
	}
	return true
}

func principal(c *gin.Context) string {
	id, _ := auth.PrincipalID(c.Request.Context())
	return id
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	if h.Ping != nil {
		if err := h.Ping(c.Request.Context()); err != nil {
			fail(c, apperr.Storage(err))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	sess, err := h.Accounts.Login(c.Request.Context(), req.Username, req.Password, provenance(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// --- Action tokens ---

type issueActionTokenRequest struct {
	Action    string `json:"action"`
	PaymentID string `json:"paymentId,omitempty"`
}

type actionTokenResponse struct {
	Token     string `json:"actionToken"`
	JTI       string `json:"jti"`
	Action    string `json:"action"`
	ExpiresAt string `json:"expiresAt"`
}

// IssueActionToken grants the calling employee a single-use token for one action.
func (h Handlers) IssueActionToken(c *gin.Context) {
	var req issueActionTokenRequest
	if !bind(c, &req) {
		return
	}
	grant, err := h.Guard.Issue(c.Request.Context(), authz.IssueRequest{
		Subject:   principal(c),
		Action:    req.Action,
		PaymentID: req.PaymentID,
	}, provenance(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, actionTokenResponse{
		Token:     grant.Token,
		JTI:       grant.JTI,
		Action:    grant.Action,
		ExpiresAt: audit.FormatTimestamp(grant.ExpiresAt),
	})
}

// --- Payments ---

func (h Handlers) CreatePayment(c *gin.Context) {
	var req payments.CreateRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.Payments.Create(c.Request.Context(), principal(c), req, provenance(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetPayment hides other customers' payments behind NOT_FOUND.
func (h Handlers) GetPayment(c *gin.Context) {
	p, err := h.Payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if !rbac.IsEmployee(c) && p.CustomerID != principal(c) {
		fail(c, apperr.New(apperr.NotFound, "payment not found"))
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) ListPayments(c *gin.Context) {
	f := payments.ListFilter{
		Status: payments.Status(strings.ToUpper(c.Query("status"))),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	if f.Status != "" && !f.Status.Valid() {
		fail(c, apperr.New(apperr.InvalidRequest, "unknown status"))
		return
	}
	if rbac.IsEmployee(c) {
		f.CustomerID = c.Query("customerId")
	} else {
		f.CustomerID = principal(c)
	}
	out, err := h.Payments.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

type actionTokenRequest struct {
	ActionToken string `json:"actionToken"`
}

func (h Handlers) VerifyPayment(c *gin.Context) {
	var req actionTokenRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.Payments.Verify(c.Request.Context(), c.Param("id"), req.ActionToken, principal(c), provenance(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) SubmitPayment(c *gin.Context) {
	var req actionTokenRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.Payments.SubmitToSwift(c.Request.Context(), c.Param("id"), req.ActionToken, principal(c), provenance(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Audit ---

func (h Handlers) ListAuditLogs(c *gin.Context) {
	page, err := h.Ledger.Query(c.Request.Context(), audit.Filter{
		EntityType: c.Query("entityType"),
		EntityID:   c.Query("entityId"),
		Action:     audit.Action(c.Query("action")),
		JTI:        c.Query("jti"),
		Limit:      queryInt(c, "limit"),
		Offset:     queryInt(c, "offset"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// VerifyAuditChain runs a full integrity walk. A broken chain is reported with
// 200 and ok=false; it is an operator alert, not a request failure.
func (h Handlers) VerifyAuditChain(c *gin.Context) {
	rep, err := h.Ledger.VerifyChain(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": rep.OK(), "report": rep})
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
