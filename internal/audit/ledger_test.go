package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"payments-portal/internal/apperr"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	l := NewLedger(repo, nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	l.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return l, repo
}

func paymentInput(id string) Input {
	return Input{
		EntityType: EntityPayment,
		EntityID:   id,
		Action:     ActionPaymentCreated,
		Provenance: Provenance{IPAddress: "10.0.0.1", UserAgent: "curl/8"},
		Metadata:   PaymentMetadata{PaymentID: id, TransactionID: "TX-" + id, ToStatus: "PENDING", ActorID: "c1"},
	}
}

func TestAppend_LinksEntries(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	e0, err := l.Append(ctx, paymentInput("p0"))
	require.NoError(t, err)
	e1, err := l.Append(ctx, paymentInput("p1"))
	require.NoError(t, err)
	e2, err := l.Append(ctx, paymentInput("p2"))
	require.NoError(t, err)

	require.Nil(t, e0.PrevHash)
	require.Equal(t, int64(1), e0.Seq)
	require.NotNil(t, e1.PrevHash)
	require.Equal(t, e0.Hash, *e1.PrevHash)
	require.Equal(t, e1.Hash, *e2.PrevHash)
	require.Equal(t, int64(3), e2.Seq)

	// Recomputing from stored fields reproduces the stored hash.
	require.Equal(t, e1.Hash, ComputeHash(e1))
	require.Len(t, e1.Hash, 64)
}

func TestCanonicalBytes_FixedLayout(t *testing.T) {
	meta := `{"paymentId":"p1"}`
	prev := "abc"
	e := Entry{
		EntityType: "Payment",
		EntityID:   "p1",
		Action:     ActionVerified,
		Metadata:   &meta,
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
		PrevHash:   &prev,
	}
	want := `["Payment","p1","VERIFIED",null,null,"{\"paymentId\":\"p1\"}","2026-01-02T03:04:05.006Z","abc"]`
	require.Equal(t, want, string(CanonicalBytes(e)))
}

func TestVerifyChain_Untouched(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	for i := 0; i < 10; i++ {
		_, err := l.Append(ctx, paymentInput(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}

	rep, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, rep.OK())
	require.Equal(t, 10, rep.Checked)
}

func TestVerifyChain_EmptyLedger(t *testing.T) {
	l, _ := newTestLedger(t)
	rep, err := l.VerifyChain(context.Background())
	require.NoError(t, err)
	require.True(t, rep.OK())
	require.Zero(t, rep.Checked)
}

func TestVerifyChain_DetectsFieldTamper(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger(t)
	for i := 0; i < 4; i++ {
		_, err := l.Append(ctx, paymentInput(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}

	repo.mu.Lock()
	repo.entries[2].Action = "PAYMENT_CREATEE"
	repo.mu.Unlock()

	rep, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	require.Equal(t, []Break{{Index: 2, Seq: 3, EntryID: repo.entries[2].ID, Kind: BreakHashMismatch}}, rep.Breaks)
}

func TestAppend_StoresValidUTF8(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	in := paymentInput("p\xff")
	in.Provenance.UserAgent = "agent\xff\x00"
	e, err := l.Append(ctx, in)
	require.NoError(t, err)

	require.Equal(t, "p\uFFFD", e.EntityID)
	require.Equal(t, "agent\uFFFD\uFFFD", *e.UserAgent)
	require.Equal(t, e.Hash, ComputeHash(e))
}

func TestVerifyChain_DetectsInvalidUTF8Tamper(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger(t)
	for i := 0; i < 3; i++ {
		in := paymentInput("p\xff")
		in.Provenance.UserAgent = "agent\xff"
		_, err := l.Append(ctx, in)
		require.NoError(t, err)
	}

	// Raw bytes that would read back as U+FFFD if decoded leniently.
	repo.mu.Lock()
	repo.entries[1].EntityID = "p\xfe"
	ua := "agent\xfe"
	repo.entries[1].UserAgent = &ua
	repo.mu.Unlock()

	rep, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	require.Equal(t, []Break{{Index: 1, Seq: 2, EntryID: repo.entries[1].ID, Kind: BreakHashMismatch}}, rep.Breaks)
}

func TestCanonicalBytes_InvalidUTF8NeverMatchesText(t *testing.T) {
	valid := Entry{EntityType: "Payment", EntityID: "p\uFFFD", Action: ActionVerified}
	raw := valid
	raw.EntityID = "p\xff"
	require.NotEqual(t, string(CanonicalBytes(valid)), string(CanonicalBytes(raw)))
	require.Contains(t, string(CanonicalBytes(raw)), `{"hex":"70ff"}`)
}

func TestVerifyChain_DetectsPrevHashTamper(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger(t)
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, paymentInput(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}

	forged := "0000"
	repo.mu.Lock()
	repo.entries[1].PrevHash = &forged
	repo.mu.Unlock()

	rep, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Breaks, 2)
	for _, b := range rep.Breaks {
		require.Equal(t, 1, b.Index)
	}
	require.Equal(t, BreakBrokenLink, rep.Breaks[0].Kind)
	require.Equal(t, BreakHashMismatch, rep.Breaks[1].Kind)
}

func TestVerifyChain_DetectsDeletion(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger(t)
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, paymentInput(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}

	repo.mu.Lock()
	repo.entries = append(repo.entries[:1], repo.entries[2:]...)
	repo.mu.Unlock()

	rep, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	require.Equal(t, []Break{{Index: 1, Seq: 3, EntryID: repo.entries[1].ID, Kind: BreakBrokenLink}}, rep.Breaks)
}

func TestAppend_TimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	e0, err := l.Append(ctx, paymentInput("p0"))
	require.NoError(t, err)

	now = now.Add(-time.Minute)
	e1, err := l.Append(ctx, paymentInput("p1"))
	require.NoError(t, err)
	require.Equal(t, e0.Timestamp, e1.Timestamp)
}

func TestAppend_RejectsMismatchedMetadata(t *testing.T) {
	l, repo := newTestLedger(t)
	_, err := l.Append(context.Background(), Input{
		EntityType: EntityPayment,
		EntityID:   "p1",
		Action:     ActionVerified,
		Metadata:   LoginMetadata{Username: "x"},
	})
	require.Error(t, err)

	_, err = l.Append(context.Background(), Input{EntityType: EntityPayment, EntityID: "p1", Action: "SOMETHING_ELSE"})
	require.Error(t, err)

	_, err = l.Append(context.Background(), Input{EntityType: EntityPayment, Action: ActionVerified})
	require.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))
	require.Zero(t, repo.Len())
}

func TestAppend_LiftsJTI(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	e, err := l.Append(ctx, Input{
		EntityType: EntityActionToken,
		EntityID:   "jti-1",
		Action:     ActionTokenIssued,
		Metadata:   TokenMetadata{JTI: "jti-1", Action: "VERIFY_PAYMENT", Subject: "emp1"},
	})
	require.NoError(t, err)
	require.Equal(t, "jti-1", e.JTI)

	ok, err := l.Exists(ctx, ActionTokenIssued, "jti-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Exact match only: a prefix of a known jti is not recognized.
	ok, err = l.Exists(ctx, ActionTokenIssued, "jti-")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithChain_DuplicateConsumptionRollsBack(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger(t)
	consumed := Input{
		EntityType: EntityActionToken,
		EntityID:   "jti-9",
		Action:     ActionTokenConsumed,
		Metadata:   TokenMetadata{JTI: "jti-9", Action: "VERIFY_PAYMENT", Subject: "emp1"},
	}

	_, err := l.Append(ctx, consumed)
	require.NoError(t, err)

	err = l.WithChain(ctx, func(ctx context.Context, w *Writer) error {
		if _, err := w.Append(ctx, paymentInput("p1")); err != nil {
			return err
		}
		_, err := w.Append(ctx, consumed)
		return err
	})
	require.ErrorIs(t, err, ErrDuplicateConsumption)
	require.Equal(t, 1, repo.Len())
}

func TestWithChain_FailureLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger(t)
	boom := errors.New("boom")

	err := l.WithChain(ctx, func(ctx context.Context, w *Writer) error {
		_, _ = w.Append(ctx, paymentInput("p1"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, repo.Len())

	e, err := l.Append(ctx, paymentInput("p2"))
	require.NoError(t, err)
	require.Nil(t, e.PrevHash)
}

func TestAppend_ConcurrentNoFork(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger(t)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(ctx, paymentInput(fmt.Sprintf("p%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, n, repo.Len())
	rep, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, rep.OK(), "breaks: %+v", rep.Breaks)

	seen := map[string]bool{}
	for i, e := range repo.entries {
		require.Equal(t, int64(i+1), e.Seq)
		if e.PrevHash != nil {
			require.False(t, seen[*e.PrevHash], "two entries share prevHash")
			seen[*e.PrevHash] = true
		}
	}
}

func TestQuery_FiltersAndCaps(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	for i := 0; i < 120; i++ {
		_, err := l.Append(ctx, paymentInput("p1"))
		require.NoError(t, err)
	}
	_, err := l.Append(ctx, paymentInput("p2"))
	require.NoError(t, err)

	page, err := l.Query(ctx, Filter{EntityID: "p1", Limit: 1000})
	require.NoError(t, err)
	require.Len(t, page.Entries, MaxQueryLimit)
	require.Equal(t, 120, page.Total)
	require.True(t, page.HasMore)
	require.Equal(t, int64(120), page.Entries[0].Seq)

	page, err = l.Query(ctx, Filter{EntityID: "p1", Offset: 110})
	require.NoError(t, err)
	require.Len(t, page.Entries, 10)
	require.False(t, page.HasMore)
	require.Equal(t, DefaultQueryLimit, page.Limit)

	page, err = l.Query(ctx, Filter{EntityType: EntityPayment, EntityID: "p2"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)

	page, err = l.Query(ctx, Filter{Action: ActionVerified})
	require.NoError(t, err)
	require.Empty(t, page.Entries)
	require.NotNil(t, page.Entries)
}

func TestFilter_WhereClause(t *testing.T) {
	where, args := Filter{EntityType: "Payment", Action: ActionVerified}.whereClause()
	require.Equal(t, " WHERE entity_type = $1 AND action = $2", where)
	require.Equal(t, []any{"Payment", "VERIFIED"}, args)

	where, args = Filter{}.whereClause()
	require.Empty(t, where)
	require.Empty(t, args)
}
