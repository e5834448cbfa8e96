package auth

import "github.com/golang-jwt/jwt/v5"

// TokenKind separates session tokens from single-use action tokens.
// Each kind is also bound to its own audience.
type TokenKind string

const (
	TokenKindSession TokenKind = "session"
	TokenKindAction  TokenKind = "action"
)

// PrincipalType is the kind of authenticated party.
type PrincipalType string

const (
	PrincipalCustomer PrincipalType = "customer"
	PrincipalEmployee PrincipalType = "employee"
)

func (p PrincipalType) Valid() bool {
	return p == PrincipalCustomer || p == PrincipalEmployee
}

// Claims are the only supported JWT claims shape for this service.
// Subject carries the principal id; ID carries the jti.
type Claims struct {
	jwt.RegisteredClaims

	Kind          TokenKind     `json:"kind"`
	PrincipalType PrincipalType `json:"ptype,omitempty"`
	Action        string        `json:"action,omitempty"`
}
