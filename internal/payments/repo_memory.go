package payments

import (
	"context"
	"sort"
	"sync"

	"payments-portal/internal/audit"
)

// MemoryRepo keeps payments in process memory and shares the chain lock of an
// audit.MemoryRepo. Lock order is payments, then ledger.
//
// NOTE: This is not intended for production; use PostgresRepo.
type MemoryRepo struct {
	mu       sync.Mutex
	payments map[string]Payment
	ledger   *audit.MemoryRepo
}

func NewMemoryRepo(ledger *audit.MemoryRepo) *MemoryRepo {
	return &MemoryRepo{payments: make(map[string]Payment), ledger: ledger}
}

func (r *MemoryRepo) Create(ctx context.Context, p Payment, fn func(ctx context.Context, tx audit.ChainTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[p.ID]; ok {
		return ErrDuplicateTransaction
	}
	for _, existing := range r.payments {
		if existing.TransactionID == p.TransactionID {
			return ErrDuplicateTransaction
		}
	}
	if err := r.ledger.WithChain(ctx, fn); err != nil {
		return err
	}
	r.payments[p.ID] = p
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Payment, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Payment, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Payment{}
	for _, p := range r.payments {
		if f.CustomerID != "" && p.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset >= len(out) {
		return []Payment{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id string, fn func(ctx context.Context, p *Payment, tx audit.ChainTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.payments[id]
	if !ok {
		return ErrNotFound
	}
	next := current
	err := r.ledger.WithChain(ctx, func(ctx context.Context, tx audit.ChainTx) error {
		return fn(ctx, &next, tx)
	})
	if err != nil {
		return err
	}
	r.payments[id] = next
	return nil
}
