package audit

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository.
// It is safe for concurrent use. The chain lock is the write mutex.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) WithChain(ctx context.Context, fn func(ctx context.Context, tx ChainTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryChainTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.entries = append(r.entries, tx.pending...)
	return nil
}

func (r *MemoryRepo) Exists(ctx context.Context, action Action, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return containsJTI(r.entries, action, jti), nil
}

func (r *MemoryRepo) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if f.matches(r.entries[i]) {
			matched = append(matched, r.entries[i])
		}
	}
	total := len(matched)
	if f.Offset >= total {
		return []Entry{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	out := make([]Entry, end-f.Offset)
	copy(out, matched[f.Offset:end])
	return out, total, nil
}

func (r *MemoryRepo) Scan(ctx context.Context, fn func(Entry) error) error {
	r.mu.RLock()
	snapshot := make([]Entry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.RUnlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Len is the number of committed entries.
func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// memoryChainTx buffers inserts until WithChain commits them. The parent lock is held throughout.
type memoryChainTx struct {
	repo    *MemoryRepo
	pending []Entry
}

func (t *memoryChainTx) Head(ctx context.Context) (Entry, bool, error) {
	if n := len(t.pending); n > 0 {
		return t.pending[n-1], true, nil
	}
	if n := len(t.repo.entries); n > 0 {
		return t.repo.entries[n-1], true, nil
	}
	return Entry{}, false, nil
}

func (t *memoryChainTx) Insert(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Action == ActionTokenConsumed && e.JTI != "" {
		if containsJTI(t.repo.entries, e.Action, e.JTI) || containsJTI(t.pending, e.Action, e.JTI) {
			return ErrDuplicateConsumption
		}
	}
	t.pending = append(t.pending, e)
	return nil
}

func (t *memoryChainTx) Exists(ctx context.Context, action Action, jti string) (bool, error) {
	return containsJTI(t.repo.entries, action, jti) || containsJTI(t.pending, action, jti), nil
}

func containsJTI(entries []Entry, action Action, jti string) bool {
	if jti == "" {
		return false
	}
	for i := range entries {
		if entries[i].Action == action && entries[i].JTI == jti {
			return true
		}
	}
	return false
}

func (f Filter) matches(e Entry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.JTI != "" && e.JTI != f.JTI {
		return false
	}
	return true
}
