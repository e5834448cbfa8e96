package audit

import (
	"context"
	"errors"
)

// ErrDuplicateConsumption is returned by ChainTx.Insert when a second
// ACTION_TOKEN_CONSUMED entry for the same jti is attempted.
var ErrDuplicateConsumption = errors.New("audit: token already consumed")

// ChainTx is exclusive access to the head of the chain.
// Everything inserted through one ChainTx becomes visible atomically, or not at all.
type ChainTx interface {
	// Head returns the most recently inserted entry, including ones inserted
	// earlier in this ChainTx. ok is false on an empty ledger.
	Head(ctx context.Context) (e Entry, ok bool, err error)
	Insert(ctx context.Context, e Entry) error
	Exists(ctx context.Context, action Action, jti string) (bool, error)
}

// Repository is the persistence contract for the ledger.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	// WithChain runs fn while holding the chain lock. Concurrent WithChain calls
	// (in this or any other process sharing the store) are serialized.
	WithChain(ctx context.Context, fn func(ctx context.Context, tx ChainTx) error) error
	Exists(ctx context.Context, action Action, jti string) (bool, error)
	// Query returns entries newest first plus the total match count.
	Query(ctx context.Context, f Filter) ([]Entry, int, error)
	// Scan visits every entry in insertion order. Returning an error from fn stops the scan.
	Scan(ctx context.Context, fn func(Entry) error) error
}
