package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"payments-portal/internal/config"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		TokenSecret:     "secret",
		TokenIssuer:     "issuer",
		SessionAudience: "aud:session",
		ActionAudience:  "aud:action",
		SessionTTL:      time.Hour,
		ActionTokenTTL:  15 * time.Minute,
	}
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestNewManager_RequiresSecret(t *testing.T) {
	cfg := testConfig()
	cfg.TokenSecret = ""
	if _, err := NewManager(cfg); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestIssueAndVerifySession(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.IssueSession(now, "emp1", PrincipalEmployee)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(tok, TokenKindSession, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "emp1" || claims.PrincipalType != PrincipalEmployee {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestIssueAndVerifyAction(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()

	g, err := m.IssueAction(now, "emp1", "VERIFY_PAYMENT")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if g.JTI == "" || !g.ExpiresAt.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("unexpected grant: %+v", g)
	}
	claims, err := m.Verify(g.Token, TokenKindAction, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.ID != g.JTI || claims.Action != "VERIFY_PAYMENT" || claims.Subject != "emp1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerify_RejectsCrossAudience(t *testing.T) {
	m := newManager(t)
	now := time.Now()

	sess, _ := m.IssueSession(now, "emp1", PrincipalEmployee)
	if _, err := m.Verify(sess, TokenKindAction, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected session token rejected as action token, got %v", err)
	}
	g, _ := m.IssueAction(now, "emp1", "VERIFY_PAYMENT")
	if _, err := m.Verify(g.Token, TokenKindSession, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected action token rejected as session token, got %v", err)
	}
}

func TestVerify_RejectsExpired(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()
	g, _ := m.IssueAction(now, "emp1", "VERIFY_PAYMENT")
	if _, err := m.Verify(g.Token, TokenKindAction, now.Add(16*time.Minute)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestVerify_RejectsForeignSignatureAndIssuer(t *testing.T) {
	m := newManager(t)
	now := time.Now()

	otherCfg := testConfig()
	otherCfg.TokenSecret = "other"
	other, _ := NewManager(otherCfg)
	g, _ := other.IssueAction(now, "emp1", "VERIFY_PAYMENT")
	if _, err := m.Verify(g.Token, TokenKindAction, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected bad signature rejected, got %v", err)
	}

	issCfg := testConfig()
	issCfg.TokenIssuer = "someone-else"
	foreign, _ := NewManager(issCfg)
	g2, _ := foreign.IssueAction(now, "emp1", "VERIFY_PAYMENT")
	if _, err := m.Verify(g2.Token, TokenKindAction, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong issuer rejected, got %v", err)
	}
}

func TestVerify_RejectsMalformed(t *testing.T) {
	m := newManager(t)
	for _, tok := range []string{"", "abc", strings.Repeat("x.", 3)} {
		if _, err := m.Verify(tok, TokenKindSession, time.Now()); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected malformed %q rejected, got %v", tok, err)
		}
	}
}
