package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"payments-portal/internal/apperr"
	"payments-portal/internal/metrics"

	"github.com/google/uuid"
)

const (
	DefaultTTL   = 10 * time.Minute
	MaxKeyLength = 255
)

// Response is a cached HTTP outcome.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Cache deduplicates retried mutating requests by (scope, key).
type Cache struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
	clock func() time.Time
}

func NewCache(store Store, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{store: store, ttl: ttl, log: log, clock: time.Now}
}

// Lookup is the result of Remember. Exactly one of Hit or the reservation is set.
// On a miss the caller runs the operation, then calls Commit or Abandon.
type Lookup struct {
	Hit *Response

	cache       *Cache
	slot        string
	reservation Record
	done        bool
}

// Remember looks up (scope, key) for body.
//
//   - no record: reserves the slot and returns a miss
//   - completed record with the same body hash: returns it as Hit
//   - record with a different body hash: CONFLICTING_IDEMPOTENT_REPLAY
//   - reservation still in flight: REQUEST_IN_PROGRESS
func (c *Cache) Remember(ctx context.Context, scope, key string, body []byte) (*Lookup, error) {
	if key == "" || len(key) > MaxKeyLength {
		return nil, apperr.New(apperr.InvalidRequest, "idempotency key must be 1-255 characters")
	}
	slot := slotKey(scope, key)
	hash := BodyHash(body)

	rec := Record{
		Owner:      uuid.NewString(),
		BodyHash:   hash,
		Processing: true,
		CreatedAt:  c.clock().UTC(),
	}
	existing, reserved, err := c.store.Reserve(ctx, slot, rec, c.ttl)
	if err != nil {
		metrics.IdempotencyLookups.WithLabelValues("error").Inc()
		return nil, apperr.Storage(err)
	}
	if reserved {
		metrics.IdempotencyLookups.WithLabelValues("miss").Inc()
		return &Lookup{cache: c, slot: slot, reservation: rec}, nil
	}

	switch {
	case existing.BodyHash != hash:
		metrics.IdempotencyLookups.WithLabelValues("conflict").Inc()
		return nil, apperr.New(apperr.ConflictingIdempotentReplay, "idempotency key was used with a different request body")
	case existing.Processing:
		metrics.IdempotencyLookups.WithLabelValues("in_progress").Inc()
		return nil, apperr.New(apperr.RequestInProgress, "a request with this idempotency key is still being processed")
	default:
		metrics.IdempotencyLookups.WithLabelValues("hit").Inc()
		return &Lookup{Hit: &Response{
			Status:      existing.Status,
			ContentType: existing.ContentType,
			Body:        existing.Body,
		}, done: true}, nil
	}
}

// Commit stores resp as the outcome for this slot.
func (l *Lookup) Commit(ctx context.Context, resp Response) error {
	if l.done {
		return nil
	}
	l.done = true
	rec := l.reservation
	rec.Processing = false
	rec.Status = resp.Status
	rec.ContentType = resp.ContentType
	rec.Body = resp.Body
	if err := l.cache.store.Complete(ctx, l.slot, rec, l.cache.ttl); err != nil {
		return apperr.Storage(err)
	}
	return nil
}

// Abandon releases the slot so a retry re-executes.
func (l *Lookup) Abandon(ctx context.Context) error {
	if l.done {
		return nil
	}
	l.done = true
	if err := l.cache.store.Release(ctx, l.slot, l.reservation); err != nil {
		return apperr.Storage(err)
	}
	return nil
}

// BodyHash is the hex SHA-256 of body. JSON bodies are re-encoded first so key
// order and insignificant whitespace do not change the hash.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(canonicalBody(body))
	return hex.EncodeToString(sum[:])
}

func canonicalBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return body
	}
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}

// slotKey hashes the scope and key together so client input never shapes the store key.
func slotKey(scope, key string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + key))
	return hex.EncodeToString(sum[:])
}
