package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"payments-portal/internal/apperr"
	"payments-portal/internal/audit"
	"payments-portal/internal/auth"
	"payments-portal/internal/authz"
	"payments-portal/internal/config"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *Service
	guard  *authz.Guard
	ledger *audit.Ledger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tokens, err := auth.NewManager(config.AuthConfig{
		TokenSecret:     "test-secret",
		TokenIssuer:     "payments-portal",
		SessionAudience: "payments-portal:session",
		ActionAudience:  "payments-portal:action",
		SessionTTL:      time.Hour,
		ActionTokenTTL:  15 * time.Minute,
	})
	require.NoError(t, err)

	ledgerRepo := audit.NewMemoryRepo()
	ledger := audit.NewLedger(ledgerRepo, nil)
	guard := authz.NewGuard(tokens, ledger, nil)
	svc := NewService(NewMemoryRepo(ledgerRepo), ledger, guard, nil)
	return fixture{svc: svc, guard: guard, ledger: ledger}
}

func validRequest() CreateRequest {
	return CreateRequest{Amount: "1250.50", Currency: "usd", RecipientAccount: "GB29NWBK60161331926819", SwiftCode: "nwbkgb2l"}
}

func (f fixture) create(t *testing.T) Payment {
	t.Helper()
	p, err := f.svc.Create(context.Background(), "cust1", validRequest(), audit.Provenance{IPAddress: "10.0.0.9"})
	require.NoError(t, err)
	return p
}

func (f fixture) token(t *testing.T, subject, action string) string {
	t.Helper()
	g, err := f.guard.Issue(context.Background(), authz.IssueRequest{Subject: subject, Action: action}, audit.Provenance{})
	require.NoError(t, err)
	return g.Token
}

func (f fixture) actions(t *testing.T, entityID string) []audit.Action {
	t.Helper()
	page, err := f.ledger.Query(context.Background(), audit.Filter{EntityType: audit.EntityPayment, EntityID: entityID})
	require.NoError(t, err)
	out := make([]audit.Action, 0, len(page.Entries))
	for i := len(page.Entries) - 1; i >= 0; i-- {
		out = append(out, page.Entries[i].Action)
	}
	return out
}

func TestStatus_Transitions(t *testing.T) {
	require.True(t, StatusPending.CanTransition(StatusVerified))
	require.True(t, StatusPending.CanTransition(StatusRejected))
	require.True(t, StatusVerified.CanTransition(StatusSubmitted))
	require.True(t, StatusSubmitted.CanTransition(StatusCompleted))
	require.False(t, StatusPending.CanTransition(StatusSubmitted))
	require.False(t, StatusVerified.CanTransition(StatusVerified))
	require.False(t, StatusSubmitted.CanTransition(StatusRejected))
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusRejected.Terminal())
	require.False(t, Status("UNKNOWN").Valid())
}

func TestCreate_Validates(t *testing.T) {
	f := newFixture(t)
	cases := map[string]CreateRequest{
		"zero amount":    {Amount: "0", Currency: "USD", RecipientAccount: "ACC1", SwiftCode: "NWBKGB2L"},
		"negative":       {Amount: "-5", Currency: "USD", RecipientAccount: "ACC1", SwiftCode: "NWBKGB2L"},
		"three decimals": {Amount: "1.005", Currency: "USD", RecipientAccount: "ACC1", SwiftCode: "NWBKGB2L"},
		"not a number":   {Amount: "ten", Currency: "USD", RecipientAccount: "ACC1", SwiftCode: "NWBKGB2L"},
		"bad currency":   {Amount: "10", Currency: "US1", RecipientAccount: "ACC1", SwiftCode: "NWBKGB2L"},
		"bad swift":      {Amount: "10", Currency: "USD", RecipientAccount: "ACC1", SwiftCode: "NWBK"},
		"no account":     {Amount: "10", Currency: "USD", RecipientAccount: " ", SwiftCode: "NWBKGB2L"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), "cust1", req, audit.Provenance{})
			require.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))
		})
	}
}

func TestCreate_RecordsPending(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, "USD", p.Currency)
	require.Equal(t, "NWBKGB2L", p.SwiftCode)
	require.Equal(t, "1250.5", p.Amount.String())
	require.Len(t, p.TransactionID, 18)
	require.Equal(t, []audit.Action{audit.ActionPaymentCreated}, f.actions(t, p.ID))

	got, err := f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, p.TransactionID, got.TransactionID)
}

func TestVerifyThenSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.create(t)

	verified, err := f.svc.Verify(ctx, p.ID, f.token(t, "emp1", authz.ActionVerifyPayment), "emp1", audit.Provenance{})
	require.NoError(t, err)
	require.Equal(t, StatusVerified, verified.Status)
	require.NotNil(t, verified.VerifiedAt)
	require.Equal(t, "emp1", verified.VerifiedBy)

	submitted, err := f.svc.SubmitToSwift(ctx, p.ID, f.token(t, "emp2", authz.ActionSubmitToSwift), "emp2", audit.Provenance{})
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedToSwiftAt)
	require.Equal(t, "emp2", submitted.SubmittedBy)

	require.Equal(t, []audit.Action{
		audit.ActionPaymentCreated,
		audit.ActionVerified,
		audit.ActionSubmittedSwift,
	}, f.actions(t, p.ID))

	consumed, err := f.ledger.Query(ctx, audit.Filter{Action: audit.ActionTokenConsumed})
	require.NoError(t, err)
	require.Equal(t, 2, consumed.Total)

	rep, err := f.ledger.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, rep.OK())
}

func TestVerify_TwiceIsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.create(t)

	_, err := f.svc.Verify(ctx, p.ID, f.token(t, "emp1", authz.ActionVerifyPayment), "emp1", audit.Provenance{})
	require.NoError(t, err)

	second := f.token(t, "emp1", authz.ActionVerifyPayment)
	_, err = f.svc.Verify(ctx, p.ID, second, "emp1", audit.Provenance{})
	require.ErrorIs(t, err, apperr.E(apperr.InvalidStateTransition))

	require.Equal(t, []audit.Action{
		audit.ActionPaymentCreated,
		audit.ActionVerified,
		audit.ActionVerifyFailed,
	}, f.actions(t, p.ID))

	// The refused attempt did not spend its token.
	other := f.create(t)
	_, err = f.svc.Verify(ctx, other.ID, second, "emp1", audit.Provenance{})
	require.NoError(t, err)
}

func TestSubmit_RequiresVerified(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	_, err := f.svc.SubmitToSwift(context.Background(), p.ID, f.token(t, "emp1", authz.ActionSubmitToSwift), "emp1", audit.Provenance{})
	require.Equal(t, apperr.InvalidStateTransition, apperr.KindOf(err))

	got, err := f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, []audit.Action{audit.ActionPaymentCreated, audit.ActionSubmitFailed}, f.actions(t, p.ID))
}

func TestVerify_TokenReuseRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.create(t)
	second := f.create(t)
	tok := f.token(t, "emp1", authz.ActionVerifyPayment)

	_, err := f.svc.Verify(ctx, first.ID, tok, "emp1", audit.Provenance{})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, second.ID, tok, "emp1", audit.Provenance{})
	require.Equal(t, apperr.TokenAlreadyUsed, apperr.KindOf(err))

	page, err := f.ledger.Query(ctx, audit.Filter{EntityID: second.ID, Action: audit.ActionVerifyFailed})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Contains(t, *page.Entries[0].Metadata, string(apperr.TokenAlreadyUsed))
}

func TestVerify_RejectsWrongTokenShape(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.create(t)

	_, err := f.svc.Verify(ctx, p.ID, f.token(t, "emp1", authz.ActionSubmitToSwift), "emp1", audit.Provenance{})
	require.Equal(t, apperr.WrongAction, apperr.KindOf(err))

	_, err = f.svc.Verify(ctx, p.ID, f.token(t, "emp1", authz.ActionVerifyPayment), "emp2", audit.Provenance{})
	require.Equal(t, apperr.SubjectMismatch, apperr.KindOf(err))

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestVerify_UnknownPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Verify(context.Background(), "missing", f.token(t, "emp1", authz.ActionVerifyPayment), "emp1", audit.Provenance{})
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
	require.Equal(t, []audit.Action{audit.ActionVerifyFailed}, f.actions(t, "missing"))
}

func TestVerify_InvalidUTF8PaymentIDIsAudited(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Verify(context.Background(), "p\xff", f.token(t, "emp1", authz.ActionVerifyPayment), "emp1", audit.Provenance{UserAgent: "ua\xff"})
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
	require.Equal(t, []audit.Action{audit.ActionVerifyFailed}, f.actions(t, "p\uFFFD"))

	rep, err := f.ledger.VerifyChain(context.Background())
	require.NoError(t, err)
	require.True(t, rep.OK())
}

func TestPostgresRepo_InvalidUTF8IDIsNotFound(t *testing.T) {
	// Rejected before any query, so no database is needed.
	r := NewPostgresRepo(nil)
	_, err := r.Get(context.Background(), "p\xff")
	require.ErrorIs(t, err, ErrNotFound)

	err = r.Transition(context.Background(), "p\xff", func(ctx context.Context, p *Payment, tx audit.ChainTx) error {
		t.Fatalf("transition callback must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVerify_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.create(t)

	const workers = 6
	tokens := make([]string, workers)
	for i := range tokens {
		tokens[i] = f.token(t, "emp1", authz.ActionVerifyPayment)
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			_, err := f.svc.Verify(ctx, p.ID, tok, "emp1", audit.Provenance{})
			errs <- err
		}(tokens[i])
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.Equal(t, apperr.InvalidStateTransition, apperr.KindOf(err))
	}
	require.Equal(t, 1, ok)

	rep, err := f.ledger.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, rep.OK())
}

func TestList_FiltersByCustomer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t)
	f.create(t)
	_, err := f.svc.Create(ctx, "cust2", validRequest(), audit.Provenance{})
	require.NoError(t, err)

	mine, err := f.svc.List(ctx, ListFilter{CustomerID: "cust1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	all, err := f.svc.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestListFilter_WhereClause(t *testing.T) {
	where, args := ListFilter{CustomerID: "c1", Status: StatusVerified}.whereClause()
	require.Equal(t, " WHERE customer_id = $1 AND status = $2", where)
	require.Equal(t, []any{"c1", "VERIFIED"}, args)
}
