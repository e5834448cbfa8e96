package audit

import "time"

// Entry is an immutable, append-only ledger record.
//
// Invariants:
// - Entries are never updated or deleted.
// - Seq is the global insertion order; Seq 1 is the genesis entry with a nil PrevHash.
// - PrevHash of entry n equals Hash of entry n-1.
// - Hash is the hex SHA-256 of CanonicalBytes(entry).
//
// Metadata is stored exactly as serialized at construction time and never re-encoded.
type Entry struct {
	ID         string    `json:"id" db:"id"`
	Seq        int64     `json:"seq" db:"seq"`
	EntityType string    `json:"entityType" db:"entity_type"`
	EntityID   string    `json:"entityId" db:"entity_id"`
	Action     Action    `json:"action" db:"action"`
	IPAddress  *string   `json:"ipAddress" db:"ip_address"`
	UserAgent  *string   `json:"userAgent" db:"user_agent"`
	Metadata   *string   `json:"metadata" db:"metadata"`
	JTI        string    `json:"jti,omitempty" db:"jti"`
	Timestamp  time.Time `json:"timestamp" db:"ts"`
	PrevHash   *string   `json:"prevHash" db:"prev_hash"`
	Hash       string    `json:"hash" db:"hash"`
}

type Action string

const (
	ActionTokenIssued   Action = "ACTION_TOKEN_ISSUED"
	ActionTokenConsumed Action = "ACTION_TOKEN_CONSUMED"

	ActionPaymentCreated Action = "PAYMENT_CREATED"
	ActionVerified       Action = "VERIFIED"
	ActionVerifyFailed   Action = "VERIFY_FAILED"
	ActionSubmittedSwift Action = "SUBMITTED_TO_SWIFT"
	ActionSubmitFailed   Action = "SUBMIT_TO_SWIFT_FAILED"
	ActionLoginSucceeded Action = "LOGIN_SUCCEEDED"
	ActionLoginFailed    Action = "LOGIN_FAILED"
	ActionAccountLocked  Action = "ACCOUNT_LOCKED"
)

const (
	EntityActionToken = "ActionToken"
	EntityPayment     = "Payment"
	EntityAccount     = "Account"
)

// Provenance is optional request origin information.
type Provenance struct {
	IPAddress string
	UserAgent string
}

// Input is what callers supply; the ledger assigns id, seq, timestamp and hashes.
type Input struct {
	EntityType string
	EntityID   string
	Action     Action
	Provenance Provenance
	Metadata   Metadata
}

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 100
)

// Filter narrows Query. Empty fields match everything.
type Filter struct {
	EntityType string
	EntityID   string
	Action     Action
	JTI        string
	Limit      int
	Offset     int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Page is one Query result, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"hasMore"`
}

type BreakKind string

const (
	BreakHashMismatch BreakKind = "hash_mismatch"
	BreakBrokenLink   BreakKind = "broken_link"
)

// Break is one integrity failure found by VerifyChain. Index is zero-based in insertion order.
type Break struct {
	Index   int       `json:"index"`
	Seq     int64     `json:"seq"`
	EntryID string    `json:"entryId"`
	Kind    BreakKind `json:"kind"`
}

type Report struct {
	Checked   int       `json:"checked"`
	Breaks    []Break   `json:"breaks"`
	CheckedAt time.Time `json:"checkedAt"`
}

func (r Report) OK() bool { return len(r.Breaks) == 0 }
