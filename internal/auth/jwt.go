package auth

import (
	"errors"
	"time"

	"payments-portal/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for every verification failure.
// Callers never learn whether the signature, expiry, issuer or audience was wrong.
var ErrInvalidToken = errors.New("auth: invalid token")

type Manager struct {
	secret          []byte
	issuer          string
	sessionAudience string
	actionAudience  string
	sessionTTL      time.Duration
	actionTTL       time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("TOKEN_SECRET is required")
	}
	if cfg.SessionAudience == "" || cfg.ActionAudience == "" || cfg.SessionAudience == cfg.ActionAudience {
		return nil, errors.New("auth: distinct session and action audiences are required")
	}
	if cfg.SessionTTL <= 0 || cfg.ActionTokenTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}

	return &Manager{
		secret:          []byte(cfg.TokenSecret),
		issuer:          cfg.TokenIssuer,
		sessionAudience: cfg.SessionAudience,
		actionAudience:  cfg.ActionAudience,
		sessionTTL:      cfg.SessionTTL,
		actionTTL:       cfg.ActionTokenTTL,
	}, nil
}

// ActionGrant describes an issued action token.
type ActionGrant struct {
	Token     string
	JTI       string
	Subject   string
	Action    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

/* ===================== ISSUE TOKENS ===================== */

func (m *Manager) IssueSession(now time.Time, principalID string, ptype PrincipalType) (string, error) {
	if principalID == "" || !ptype.Valid() {
		return "", errors.New("auth: principal id and valid type required")
	}
	claims := m.registered(now, principalID, m.sessionAudience, m.sessionTTL)
	return m.sign(Claims{
		RegisteredClaims: claims,
		Kind:             TokenKindSession,
		PrincipalType:    ptype,
	})
}

func (m *Manager) IssueAction(now time.Time, subject, action string) (ActionGrant, error) {
	if subject == "" || action == "" {
		return ActionGrant{}, errors.New("auth: subject and action required")
	}
	claims := m.registered(now, subject, m.actionAudience, m.actionTTL)
	tok, err := m.sign(Claims{
		RegisteredClaims: claims,
		Kind:             TokenKindAction,
		Action:           action,
	})
	if err != nil {
		return ActionGrant{}, err
	}
	return ActionGrant{
		Token:     tok,
		JTI:       claims.ID,
		Subject:   subject,
		Action:    action,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

/* ===================== VERIFY TOKEN ===================== */

// Verify checks signature, expiry, issuer, audience and kind.
func (m *Manager) Verify(tokenString string, kind TokenKind, now time.Time) (Claims, error) {
	audience := m.sessionAudience
	if kind == TokenKindAction {
		audience = m.actionAudience
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(audience),
	)

	if _, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, ErrInvalidToken
	}

	if claims.Kind != kind || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	switch kind {
	case TokenKindSession:
		if !claims.PrincipalType.Valid() {
			return Claims{}, ErrInvalidToken
		}
	case TokenKindAction:
		if claims.Action == "" {
			return Claims{}, ErrInvalidToken
		}
	}
	return claims, nil
}

/* ===================== INTERNAL ISSUE ===================== */

func (m *Manager) registered(now time.Time, subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (m *Manager) sign(c Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return t.SignedString(m.secret)
}
