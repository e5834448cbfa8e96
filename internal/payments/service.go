package payments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"payments-portal/internal/apperr"
	"payments-portal/internal/audit"
	"payments-portal/internal/authz"
	"payments-portal/internal/metrics"
	"payments-portal/pkg/logger"

	"github.com/google/uuid"
)

// Service runs the payment state machine.
//
// Invariants:
// - PENDING -> VERIFIED and VERIFIED -> SUBMITTED each spend exactly one action token.
// - The status change, the CONSUMED entry and the outcome entry commit together.
// - Every refused transition leaves exactly one *_FAILED ledger entry.
type Service struct {
	repo   Repository
	ledger *audit.Ledger
	guard  *authz.Guard
	log    *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, ledger *audit.Ledger, guard *authz.Guard, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, guard: guard, log: log, clock: time.Now}
}

// Create records a new PENDING payment for customerID together with its PAYMENT_CREATED entry.
func (s *Service) Create(ctx context.Context, customerID string, req CreateRequest, prov audit.Provenance) (Payment, error) {
	if customerID == "" {
		return Payment{}, apperr.New(apperr.Unauthenticated, "customer required")
	}
	req, amount, err := req.normalize()
	if err != nil {
		return Payment{}, err
	}

	p := Payment{
		ID:               uuid.NewString(),
		TransactionID:    newTransactionID(),
		CustomerID:       customerID,
		Amount:           amount,
		Currency:         req.Currency,
		RecipientAccount: req.RecipientAccount,
		SwiftCode:        req.SwiftCode,
		Status:           StatusPending,
		CreatedAt:        s.clock().UTC().Truncate(time.Microsecond),
	}

	var appended []audit.Action
	err = s.repo.Create(ctx, p, func(ctx context.Context, tx audit.ChainTx) error {
		w := s.ledger.Bind(tx)
		_, err := w.Append(ctx, audit.Input{
			EntityType: audit.EntityPayment,
			EntityID:   p.ID,
			Action:     audit.ActionPaymentCreated,
			Provenance: prov,
			Metadata: audit.PaymentMetadata{
				PaymentID:     p.ID,
				TransactionID: p.TransactionID,
				ToStatus:      string(p.Status),
				Amount:        p.Amount.StringFixed(maxAmountScale),
				Currency:      p.Currency,
				ActorID:       customerID,
			},
		})
		appended = w.Appended()
		return err
	})
	if err != nil {
		return Payment{}, s.storageErr(err)
	}
	audit.RecordCommitted(appended)
	metrics.PaymentTransitions.WithLabelValues(string(StatusPending), "ok").Inc()
	logger.FromOr(ctx, s.log).Info("payment created", "payment_id", p.ID, "transaction_id", p.TransactionID, "customer_id", customerID)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (Payment, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Payment{}, s.storageErr(err)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Payment, error) {
	out, err := s.repo.List(ctx, f.normalized())
	if err != nil {
		return nil, s.storageErr(err)
	}
	return out, nil
}

// Verify moves a PENDING payment to VERIFIED using a VERIFY_PAYMENT action token.
func (s *Service) Verify(ctx context.Context, paymentID, token, employeeID string, prov audit.Provenance) (Payment, error) {
	return s.transition(ctx, verifyStep, paymentID, token, employeeID, prov)
}

// SubmitToSwift moves a VERIFIED payment to SUBMITTED using a SUBMIT_TO_SWIFT action token.
func (s *Service) SubmitToSwift(ctx context.Context, paymentID, token, employeeID string, prov audit.Provenance) (Payment, error) {
	return s.transition(ctx, submitStep, paymentID, token, employeeID, prov)
}

// step describes one token-gated transition.
type step struct {
	from        Status
	to          Status
	tokenAction string
	okAction    audit.Action
	failAction  audit.Action
	stamp       func(p *Payment, actor string, at time.Time)
}

var verifyStep = step{
	from:        StatusPending,
	to:          StatusVerified,
	tokenAction: authz.ActionVerifyPayment,
	okAction:    audit.ActionVerified,
	failAction:  audit.ActionVerifyFailed,
	stamp: func(p *Payment, actor string, at time.Time) {
		p.VerifiedAt = &at
		p.VerifiedBy = actor
	},
}

var submitStep = step{
	from:        StatusVerified,
	to:          StatusSubmitted,
	tokenAction: authz.ActionSubmitToSwift,
	okAction:    audit.ActionSubmittedSwift,
	failAction:  audit.ActionSubmitFailed,
	stamp: func(p *Payment, actor string, at time.Time) {
		p.SubmittedToSwiftAt = &at
		p.SubmittedBy = actor
	},
}

func (s *Service) transition(ctx context.Context, st step, paymentID, token, employeeID string, prov audit.Provenance) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, apperr.New(apperr.InvalidRequest, "payment id required")
	}

	jti, err := s.guard.Authorize(ctx, token, st.tokenAction, employeeID)
	if err != nil {
		s.recordFailure(ctx, st, paymentID, employeeID, "", "", err, prov)
		return Payment{}, err
	}

	var (
		out      Payment
		seen     Status
		appended []audit.Action
	)
	err = s.repo.Transition(ctx, paymentID, func(ctx context.Context, p *Payment, tx audit.ChainTx) error {
		seen = p.Status
		if p.Status != st.from || !p.Status.CanTransition(st.to) {
			return apperr.New(apperr.InvalidStateTransition, "payment is "+string(p.Status)+", expected "+string(st.from))
		}

		w := s.ledger.Bind(tx)
		if err := s.guard.Consume(ctx, w, authz.Consumption{
			JTI:       jti,
			Action:    st.tokenAction,
			Subject:   employeeID,
			PaymentID: paymentID,
		}, prov); err != nil {
			return err
		}

		at := s.clock().UTC().Truncate(time.Microsecond)
		p.Status = st.to
		st.stamp(p, employeeID, at)

		if _, err := w.Append(ctx, audit.Input{
			EntityType: audit.EntityPayment,
			EntityID:   p.ID,
			Action:     st.okAction,
			Provenance: prov,
			Metadata: audit.PaymentMetadata{
				PaymentID:     p.ID,
				TransactionID: p.TransactionID,
				FromStatus:    string(st.from),
				ToStatus:      string(st.to),
				Amount:        p.Amount.StringFixed(maxAmountScale),
				Currency:      p.Currency,
				ActorID:       employeeID,
				JTI:           jti,
			},
		}); err != nil {
			return err
		}
		appended = w.Appended()
		out = *p
		return nil
	})
	if err != nil {
		err = s.storageErr(err)
		s.recordFailure(ctx, st, paymentID, employeeID, jti, seen, err, prov)
		return Payment{}, err
	}

	audit.RecordCommitted(appended)
	metrics.PaymentTransitions.WithLabelValues(string(st.to), "ok").Inc()
	logger.FromOr(ctx, s.log).Info("payment transitioned", "payment_id", paymentID, "from", st.from, "to", st.to, "actor_id", employeeID, "jti", jti)
	return out, nil
}

// recordFailure appends the *_FAILED entry in its own chain transaction, since
// the failed attempt's transaction has already rolled back.
func (s *Service) recordFailure(ctx context.Context, st step, paymentID, actorID, jti string, status Status, cause error, prov audit.Provenance) {
	kind := apperr.KindOf(cause)
	metrics.PaymentTransitions.WithLabelValues(string(st.to), string(kind)).Inc()

	_, err := s.ledger.Append(context.WithoutCancel(ctx), audit.Input{
		EntityType: audit.EntityPayment,
		EntityID:   paymentID,
		Action:     st.failAction,
		Provenance: prov,
		Metadata: audit.FailureMetadata{
			Reason:    string(kind),
			ActorID:   actorID,
			PaymentID: paymentID,
			JTI:       jti,
			Status:    string(status),
		},
	})
	if err != nil {
		logger.FromOr(ctx, s.log).Error("failed to record refused transition", "payment_id", paymentID, "action", st.failAction, "reason", kind, "err", err)
		return
	}
	logger.FromOr(ctx, s.log).Warn("payment transition refused", "payment_id", paymentID, "to", st.to, "reason", kind, "actor_id", actorID)
}

func (s *Service) storageErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.Wrap(apperr.NotFound, "payment not found", err)
	case errors.Is(err, ErrDuplicateTransaction):
		return apperr.Wrap(apperr.StorageFailure, "transaction id collision, retry", err)
	default:
		return apperr.Storage(err)
	}
}

func newTransactionID() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "TX" + raw[:16]
}
