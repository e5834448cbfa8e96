package accounts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound  = errors.New("account not found")
	ErrDuplicate = errors.New("username already exists")
)

type Repository interface {
	Create(ctx context.Context, a Account) error
	FindByUsername(ctx context.Context, username string) (Account, error)
	// RegisterFailure atomically increments the failure counter and locks the
	// account until lockUntil once the counter reaches maxAttempts.
	RegisterFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (Account, error)
	ResetFailures(ctx context.Context, id string) error
}

func normalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// MemoryRepo is an in-memory Repository for tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	mu     sync.Mutex
	byID   map[string]Account
	byName map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Account), byName: make(map[string]string)}
}

func (r *MemoryRepo) Create(ctx context.Context, a Account) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a.Username = normalizeUsername(a.Username)
	if _, ok := r.byName[a.Username]; ok {
		return ErrDuplicate
	}
	r.byID[a.ID] = a
	r.byName[a.Username] = a.ID
	return nil
}

func (r *MemoryRepo) FindByUsername(ctx context.Context, username string) (Account, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[normalizeUsername(username)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepo) RegisterFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (Account, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	a.FailedAttempts++
	if a.FailedAttempts >= maxAttempts {
		until := lockUntil
		a.LockedUntil = &until
	}
	r.byID[id] = a
	return a, nil
}

func (r *MemoryRepo) ResetFailures(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	r.byID[id] = a
	return nil
}
