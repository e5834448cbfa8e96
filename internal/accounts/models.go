package accounts

import (
	"time"

	"payments-portal/internal/auth"
)

// Account is a login identity. Accounts are provisioned out of band; there is
// no self-registration.
type Account struct {
	ID             string             `json:"id" db:"id"`
	Username       string             `json:"username" db:"username"`
	PasswordHash   string             `json:"-" db:"password_hash"`
	Type           auth.PrincipalType `json:"type" db:"principal_type"`
	FailedAttempts int                `json:"failedAttempts" db:"failed_attempts"`
	LockedUntil    *time.Time         `json:"lockedUntil,omitempty" db:"locked_until"`
	CreatedAt      time.Time          `json:"createdAt" db:"created_at"`
}

// Locked reports whether logins are refused at now.
func (a Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Session is the result of a successful login.
type Session struct {
	Token         string             `json:"token"`
	PrincipalID   string             `json:"principalId"`
	PrincipalType auth.PrincipalType `json:"principalType"`
	ExpiresAt     time.Time          `json:"expiresAt"`
}
