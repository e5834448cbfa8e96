package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payments-portal/internal/apperr"
	"payments-portal/internal/metrics"
	"payments-portal/pkg/logger"

	"github.com/google/uuid"
)

// Ledger is the hash-chained audit log.
//
// Every append reads the chain head and writes the new entry under the
// repository's chain lock, so two appends can never observe the same head.
type Ledger struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
	newID func() string
}

func NewLedger(repo Repository, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{repo: repo, log: log, clock: time.Now, newID: uuid.NewString}
}

// SetClock replaces the time source; tests only.
func (l *Ledger) SetClock(clock func() time.Time) { l.clock = clock }

// Append records one entry and returns it as persisted.
func (l *Ledger) Append(ctx context.Context, in Input) (Entry, error) {
	var out Entry
	err := l.WithChain(ctx, func(ctx context.Context, w *Writer) error {
		e, err := w.Append(ctx, in)
		out = e
		return err
	})
	return out, err
}

// WithChain runs fn with a Writer bound to a fresh chain transaction.
func (l *Ledger) WithChain(ctx context.Context, fn func(ctx context.Context, w *Writer) error) error {
	if l.repo == nil {
		return errors.New("audit: repository not configured")
	}
	var appended []Action
	err := l.repo.WithChain(ctx, func(ctx context.Context, tx ChainTx) error {
		w := l.Bind(tx)
		if err := fn(ctx, w); err != nil {
			return err
		}
		appended = w.appended
		return nil
	})
	if err != nil {
		return storageErr(err)
	}
	for _, a := range appended {
		metrics.LedgerAppends.WithLabelValues(string(a)).Inc()
	}
	return nil
}

// Bind wraps a chain transaction owned by another repository so its writes
// commit together with that repository's own changes. The caller is
// responsible for counting what it commits.
func (l *Ledger) Bind(tx ChainTx) *Writer {
	return &Writer{tx: tx, l: l}
}

// Exists reports whether an entry with this action and jti has been recorded.
func (l *Ledger) Exists(ctx context.Context, action Action, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	ok, err := l.repo.Exists(ctx, action, jti)
	if err != nil {
		return false, storageErr(err)
	}
	return ok, nil
}

// Query is a read-only filtered page, newest first. Limit is capped at MaxQueryLimit.
func (l *Ledger) Query(ctx context.Context, f Filter) (Page, error) {
	f = f.normalized()
	entries, total, err := l.repo.Query(ctx, f)
	if err != nil {
		return Page{}, storageErr(err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{
		Entries: entries,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: f.Offset+len(entries) < total,
	}, nil
}

// VerifyChain walks every entry in insertion order, recomputing each hash from
// the stored fields and stored prevHash, and checking each prevHash against the
// previous entry's stored hash. It reports every failing index and never repairs.
func (l *Ledger) VerifyChain(ctx context.Context) (Report, error) {
	rep := Report{Breaks: []Break{}}
	var prev *Entry
	idx := 0
	err := l.repo.Scan(ctx, func(e Entry) error {
		var expected *string
		if prev != nil {
			h := prev.Hash
			expected = &h
		}
		if !samePtr(e.PrevHash, expected) {
			rep.Breaks = append(rep.Breaks, Break{Index: idx, Seq: e.Seq, EntryID: e.ID, Kind: BreakBrokenLink})
		}
		if ComputeHash(e) != e.Hash {
			rep.Breaks = append(rep.Breaks, Break{Index: idx, Seq: e.Seq, EntryID: e.ID, Kind: BreakHashMismatch})
		}
		cur := e
		prev = &cur
		idx++
		return nil
	})
	if err != nil {
		return Report{}, storageErr(err)
	}
	rep.Checked = idx
	rep.CheckedAt = l.clock().UTC()

	metrics.LedgerVerifiedEntries.Set(float64(rep.Checked))
	metrics.LedgerChainBreaks.Set(float64(len(rep.Breaks)))
	if !rep.OK() {
		logger.FromOr(ctx, l.log).Error("ledger integrity check failed", "checked", rep.Checked, "breaks", len(rep.Breaks), "first_break_seq", rep.Breaks[0].Seq)
	} else {
		logger.FromOr(ctx, l.log).Info("ledger integrity check passed", "checked", rep.Checked)
	}
	return rep, nil
}

// Writer appends inside one chain transaction.
type Writer struct {
	tx       ChainTx
	l        *Ledger
	appended []Action
}

// Append seals in against the current head and inserts it.
func (w *Writer) Append(ctx context.Context, in Input) (Entry, error) {
	if in.EntityType == "" || in.EntityID == "" || in.Action == "" {
		return Entry{}, apperr.New(apperr.InvalidRequest, "audit: entity type, entity id and action are required")
	}
	meta, jti, err := encodeMetadata(in.Action, in.Metadata)
	if err != nil {
		return Entry{}, apperr.Wrap(apperr.Internal, "audit: invalid metadata", err)
	}

	head, ok, err := w.tx.Head(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: read chain head: %w", err)
	}

	e := Entry{
		ID:         w.l.newID(),
		Seq:        1,
		EntityType: validText(in.EntityType),
		EntityID:   validText(in.EntityID),
		Action:     in.Action,
		IPAddress:  optional(in.Provenance.IPAddress),
		UserAgent:  optional(in.Provenance.UserAgent),
		Metadata:   meta,
		JTI:        validText(jti),
		Timestamp:  normalizeTime(w.l.clock()),
	}
	if ok {
		prev := head.Hash
		e.PrevHash = &prev
		e.Seq = head.Seq + 1
		// Insertion order wins over wall clock: timestamps never go backwards.
		if e.Timestamp.Before(head.Timestamp) {
			e.Timestamp = head.Timestamp
		}
	}
	e.Hash = ComputeHash(e)

	if err := w.tx.Insert(ctx, e); err != nil {
		return Entry{}, err
	}
	w.appended = append(w.appended, e.Action)
	return e, nil
}

// Exists sees entries committed before this transaction and entries appended in it.
func (w *Writer) Exists(ctx context.Context, action Action, jti string) (bool, error) {
	return w.tx.Exists(ctx, action, jti)
}

// Appended lists the actions written so far, for callers that commit via Bind.
func (w *Writer) Appended() []Action {
	out := make([]Action, len(w.appended))
	copy(out, w.appended)
	return out
}

// RecordCommitted counts entries committed through a bound Writer.
func RecordCommitted(actions []Action) {
	for _, a := range actions {
		metrics.LedgerAppends.WithLabelValues(string(a)).Inc()
	}
}

func storageErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.StorageFailure, "ledger operation timed out", err)
	}
	return apperr.Storage(err)
}
