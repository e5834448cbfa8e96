package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_ledger_appends_total",
		Help: "Ledger entries appended, by action",
	}, []string{"action"})

	LedgerChainBreaks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payments_ledger_chain_breaks",
		Help: "Integrity breaks found by the most recent chain verification",
	})

	LedgerVerifiedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payments_ledger_verified_entries",
		Help: "Entries checked by the most recent chain verification",
	})

	AuthzOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_action_token_outcomes_total",
		Help: "Action token authorization outcomes, by action and result",
	}, []string{"action", "result"})

	PaymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_transitions_total",
		Help: "Payment state transitions, by target status and result",
	}, []string{"to", "result"})

	IdempotencyLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_idempotency_lookups_total",
		Help: "Idempotency cache lookups, by result",
	}, []string{"result"})

	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_login_attempts_total",
		Help: "Login attempts, by result",
	}, []string{"result"})

	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_http_request_duration_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Middleware observes request latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
