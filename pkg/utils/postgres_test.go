package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPoolDefaults(t *testing.T) {
	p := PostgresPoolConfig{}.withDefaults()
	if p.MaxOpenConns != 25 || p.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	p = PostgresPoolConfig{MaxOpenConns: 3}.withDefaults()
	if p.MaxOpenConns != 3 {
		t.Fatalf("explicit value overwritten: %d", p.MaxOpenConns)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "audit_logs_consumed_jti_key"})
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected unique violation")
	}
	if !IsUniqueViolation(err, "audit_logs_consumed_jti_key") {
		t.Fatalf("expected match on constraint name")
	}
	if IsUniqueViolation(err, "other_key") {
		t.Fatalf("expected no match on different constraint")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "40001"}, "") {
		t.Fatalf("serialization failure is not a unique violation")
	}
	if IsUniqueViolation(errors.New("plain"), "") {
		t.Fatalf("plain error is not a unique violation")
	}
}

func TestAdvisoryKeyStable(t *testing.T) {
	if AdvisoryKey("audit_chain") != AdvisoryKey("audit_chain") {
		t.Fatalf("expected stable key")
	}
	if AdvisoryKey("audit_chain") == AdvisoryKey("payments") {
		t.Fatalf("expected distinct keys")
	}
}
