package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// TimestampLayout is ISO-8601 with millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// normalizeTime drops sub-millisecond precision so stored and hashed values agree.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// CanonicalBytes is the exact byte string hashed for an entry: a JSON array of
// entityType, entityId, action, ipAddress, userAgent, metadata, timestamp, prevHash
// with nulls for absent optional values. Changing this breaks every stored hash.
//
// Append only stores valid UTF-8. A field holding invalid UTF-8 is encoded as
// {"hex": ...} of its raw bytes, so it can never canonicalize like a string.
func CanonicalBytes(e Entry) []byte {
	fields := []any{
		exact(e.EntityType),
		exact(e.EntityID),
		exact(string(e.Action)),
		exactPtr(e.IPAddress),
		exactPtr(e.UserAgent),
		exactPtr(e.Metadata),
		FormatTimestamp(e.Timestamp),
		exactPtr(e.PrevHash),
	}
	// Strings, nils and string maps cannot fail to marshal.
	b, _ := json.Marshal(fields)
	return b
}

func exact(s string) any {
	if utf8.ValidString(s) {
		return s
	}
	return map[string]string{"hex": hex.EncodeToString([]byte(s))}
}

func exactPtr(s *string) any {
	if s == nil {
		return nil
	}
	return exact(*s)
}

// ComputeHash returns the hex SHA-256 of CanonicalBytes(e).
func ComputeHash(e Entry) string {
	sum := sha256.Sum256(CanonicalBytes(e))
	return hex.EncodeToString(sum[:])
}

// optional maps "" to nil and replaces invalid UTF-8 with U+FFFD.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	s = validText(s)
	return &s
}

// validText makes s storable as Postgres TEXT: invalid UTF-8 and NUL bytes
// become U+FFFD.
func validText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "\uFFFD")
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
