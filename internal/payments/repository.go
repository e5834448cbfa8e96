package payments

import (
	"context"
	"errors"

	"payments-portal/internal/audit"
)

var (
	ErrNotFound             = errors.New("payment not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

// Repository persists payments. Every write also holds the audit chain, so
// a payment row and its ledger entries are committed together or not at all.
type Repository interface {
	// Create inserts p and runs fn in the same unit of work.
	Create(ctx context.Context, p Payment, fn func(ctx context.Context, tx audit.ChainTx) error) error
	Get(ctx context.Context, id string) (Payment, error)
	List(ctx context.Context, f ListFilter) ([]Payment, error)
	// Transition locks payment id, hands a copy to fn, and persists the copy
	// only if fn succeeds. The stored status must still equal the status fn saw.
	Transition(ctx context.Context, id string, fn func(ctx context.Context, p *Payment, tx audit.ChainTx) error) error
}
