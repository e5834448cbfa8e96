package idempotency

import (
	"context"
	"sync"
	"time"
)

// Record is what a store keeps per slot. A Processing record is a reservation
// owned by one in-flight request; a completed record holds the cached response.
type Record struct {
	Owner       string    `json:"owner"`
	BodyHash    string    `json:"bodyHash"`
	Processing  bool      `json:"processing"`
	Status      int       `json:"status,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists idempotency slots with a TTL.
type Store interface {
	// Reserve claims key with rec unless a live record already exists, in which
	// case that record is returned and reserved is false.
	Reserve(ctx context.Context, key string, rec Record, ttl time.Duration) (existing *Record, reserved bool, err error)
	// Complete replaces the reservation with the finished record.
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	// Release drops the reservation if reservation still owns the slot.
	Release(ctx context.Context, key string, reservation Record) error
}

const sweepInterval = time.Minute

type memoryItem struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore is a per-process Store. Expired records are purged lazily on access.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]memoryItem
	clock     func() time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), clock: time.Now}
}

func (s *MemoryStore) Reserve(ctx context.Context, key string, rec Record, ttl time.Duration) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.sweepLocked(now)

	if it, ok := s.items[key]; ok && now.Before(it.expiresAt) {
		existing := it.rec
		return &existing, false, nil
	}
	s.items[key] = memoryItem{rec: rec, expiresAt: now.Add(ttl)}
	return nil, true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{rec: rec, expiresAt: s.clock().Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string, reservation Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[key]; ok && it.rec.Processing && it.rec.Owner == reservation.Owner {
		delete(s.items, key)
	}
	return nil
}

// Len counts records, including expired ones not yet purged.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for k, it := range s.items {
		if !now.Before(it.expiresAt) {
			delete(s.items, k)
		}
	}
}
