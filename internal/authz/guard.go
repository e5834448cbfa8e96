package authz

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"payments-portal/internal/apperr"
	"payments-portal/internal/audit"
	"payments-portal/internal/auth"
	"payments-portal/internal/metrics"
	"payments-portal/pkg/logger"
)

// Privileged operations that can be granted through an action token.
const (
	ActionVerifyPayment = "VERIFY_PAYMENT"
	ActionSubmitToSwift = "SUBMIT_TO_SWIFT"
)

var issuable = map[string]bool{
	ActionVerifyPayment: true,
	ActionSubmitToSwift: true,
}

// Guard enforces that an action token is used at most once, and only by the
// principal and for the action it was issued for.
//
// Per-jti lifecycle, stored purely as ledger facts:
//
//	UNISSUED -> ISSUED (ACTION_TOKEN_ISSUED) -> CONSUMED (ACTION_TOKEN_CONSUMED)
type Guard struct {
	tokens *auth.Manager
	ledger *audit.Ledger
	log    *slog.Logger
	clock  func() time.Time
}

func NewGuard(tokens *auth.Manager, ledger *audit.Ledger, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{tokens: tokens, ledger: ledger, log: log, clock: time.Now}
}

// IssueRequest asks for one action token. PaymentID is recorded for forensics only.
type IssueRequest struct {
	Subject   string
	Action    string
	PaymentID string
}

// Issue signs a new action token and records exactly one ISSUED entry for it.
// A token whose ISSUED entry failed to persist is never returned.
func (g *Guard) Issue(ctx context.Context, req IssueRequest, prov audit.Provenance) (auth.ActionGrant, error) {
	req.Action = strings.TrimSpace(req.Action)
	if !issuable[req.Action] {
		return auth.ActionGrant{}, apperr.New(apperr.InvalidRequest, "unsupported action")
	}
	if req.Subject == "" {
		return auth.ActionGrant{}, apperr.New(apperr.Unauthenticated, "subject required")
	}

	grant, err := g.tokens.IssueAction(g.clock(), req.Subject, req.Action)
	if err != nil {
		return auth.ActionGrant{}, apperr.Wrap(apperr.Internal, "sign action token", err)
	}

	_, err = g.ledger.Append(ctx, audit.Input{
		EntityType: audit.EntityActionToken,
		EntityID:   grant.JTI,
		Action:     audit.ActionTokenIssued,
		Provenance: prov,
		Metadata: audit.TokenMetadata{
			JTI:       grant.JTI,
			Action:    grant.Action,
			Subject:   grant.Subject,
			PaymentID: req.PaymentID,
			ExpiresAt: audit.FormatTimestamp(grant.ExpiresAt),
		},
	})
	if err != nil {
		return auth.ActionGrant{}, err
	}

	metrics.AuthzOutcomes.WithLabelValues(grant.Action, "issued").Inc()
	logger.FromOr(ctx, g.log).Info("action token issued", "jti", grant.JTI, "action", grant.Action, "subject", grant.Subject)
	return grant, nil
}

// Authorize runs every read-only check on token and returns its jti.
// Success does not consume the token; the caller must Consume it as part of
// the business transition.
func (g *Guard) Authorize(ctx context.Context, token, expectedAction, callerSubject string) (string, error) {
	jti, err := g.authorize(ctx, token, expectedAction, callerSubject)
	if err != nil {
		g.reject(ctx, expectedAction, callerSubject, err)
		return "", err
	}
	return jti, nil
}

func (g *Guard) authorize(ctx context.Context, token, expectedAction, callerSubject string) (string, error) {
	claims, err := g.tokens.Verify(token, auth.TokenKindAction, g.clock())
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidToken, "action token failed verification", err)
	}
	if claims.Subject != callerSubject {
		return "", apperr.New(apperr.SubjectMismatch, "token subject does not match caller")
	}
	if claims.Action != expectedAction {
		return "", apperr.New(apperr.WrongAction, "token grants a different action")
	}
	jti := claims.ID
	if jti == "" {
		return "", apperr.New(apperr.InvalidToken, "token has no jti")
	}

	issued, err := g.ledger.Exists(ctx, audit.ActionTokenIssued, jti)
	if err != nil {
		return "", err
	}
	if !issued {
		return "", apperr.New(apperr.TokenNotRecognized, "token was never issued")
	}
	consumed, err := g.ledger.Exists(ctx, audit.ActionTokenConsumed, jti)
	if err != nil {
		return "", err
	}
	if consumed {
		return "", apperr.New(apperr.TokenAlreadyUsed, "token already consumed")
	}
	return jti, nil
}

// Consumption identifies the token being spent and what it was spent on.
type Consumption struct {
	JTI       string
	Action    string
	Subject   string
	PaymentID string
}

// Consume records the CONSUMED entry for c.JTI through w, which must hold the
// chain lock. The first writer wins; any later one gets TokenAlreadyUsed even
// if it passed Authorize concurrently.
func (g *Guard) Consume(ctx context.Context, w *audit.Writer, c Consumption, prov audit.Provenance) error {
	err := g.consume(ctx, w, c, prov)
	if err != nil {
		if apperr.IsTokenRejection(apperr.KindOf(err)) {
			g.reject(ctx, c.Action, c.Subject, err)
		}
		return err
	}
	metrics.AuthzOutcomes.WithLabelValues(c.Action, "consumed").Inc()
	return nil
}

func (g *Guard) consume(ctx context.Context, w *audit.Writer, c Consumption, prov audit.Provenance) error {
	if c.JTI == "" {
		return apperr.New(apperr.InvalidToken, "token has no jti")
	}
	used, err := w.Exists(ctx, audit.ActionTokenConsumed, c.JTI)
	if err != nil {
		return err
	}
	if used {
		return apperr.New(apperr.TokenAlreadyUsed, "token already consumed")
	}

	_, err = w.Append(ctx, audit.Input{
		EntityType: audit.EntityActionToken,
		EntityID:   c.JTI,
		Action:     audit.ActionTokenConsumed,
		Provenance: prov,
		Metadata: audit.TokenMetadata{
			JTI:       c.JTI,
			Action:    c.Action,
			Subject:   c.Subject,
			PaymentID: c.PaymentID,
		},
	})
	if errors.Is(err, audit.ErrDuplicateConsumption) {
		return apperr.Wrap(apperr.TokenAlreadyUsed, "token already consumed", err)
	}
	return err
}

func (g *Guard) reject(ctx context.Context, action, subject string, err error) {
	kind := apperr.KindOf(err)
	metrics.AuthzOutcomes.WithLabelValues(action, string(kind)).Inc()
	if kind == apperr.StorageFailure {
		logger.FromOr(ctx, g.log).Error("action token check failed", "action", action, "subject", subject, "err", err)
		return
	}
	logger.FromOr(ctx, g.log).Warn("action token rejected", "action", action, "subject", subject, "kind", kind)
}
