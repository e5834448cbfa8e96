package payments

import (
	"strings"
	"time"

	"payments-portal/internal/apperr"

	"github.com/shopspring/decimal"
)

// Payment is a customer-initiated transfer.
// Status only moves along the transitions table; every move past PENDING is
// gated by one consumed action token and recorded in the audit ledger.
type Payment struct {
	ID               string          `json:"id" db:"id"`
	TransactionID    string          `json:"transactionId" db:"transaction_id"`
	CustomerID       string          `json:"customerId" db:"customer_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Currency         string          `json:"currency" db:"currency"`
	RecipientAccount string          `json:"recipientAccount" db:"recipient_account"`
	SwiftCode        string          `json:"swiftCode" db:"swift_code"`
	Status           Status          `json:"status" db:"status"`

	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
	VerifiedAt         *time.Time `json:"verifiedAt,omitempty" db:"verified_at"`
	VerifiedBy         string     `json:"verifiedBy,omitempty" db:"verified_by"`
	SubmittedToSwiftAt *time.Time `json:"submittedToSwiftAt,omitempty" db:"submitted_to_swift_at"`
	SubmittedBy        string     `json:"submittedBy,omitempty" db:"submitted_by"`
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusVerified  Status = "VERIFIED"
	StatusSubmitted Status = "SUBMITTED"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// COMPLETED and REJECTED are reached by settlement processes outside this service.
var transitions = map[Status][]Status{
	StatusPending:   {StatusVerified, StatusRejected},
	StatusVerified:  {StatusSubmitted, StatusRejected},
	StatusSubmitted: {StatusCompleted},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusSubmitted, StatusCompleted, StatusRejected:
		return true
	default:
		return false
	}
}

// CanTransition reports whether s -> to is a legal move.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type CreateRequest struct {
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	RecipientAccount string `json:"recipientAccount"`
	SwiftCode        string `json:"swiftCode"`
}

const maxAmountScale = 2

var maxAmount = decimal.New(1, 12)

// normalize trims and upper-cases codes and parses the amount.
// Format rules beyond shape (IBAN checksums, BIC registry) are not checked here.
func (r CreateRequest) normalize() (CreateRequest, decimal.Decimal, error) {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.SwiftCode = strings.ToUpper(strings.TrimSpace(r.SwiftCode))
	r.RecipientAccount = strings.TrimSpace(r.RecipientAccount)

	amount, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
	if err != nil {
		return r, decimal.Decimal{}, apperr.New(apperr.InvalidRequest, "amount must be a decimal number")
	}
	if !amount.IsPositive() || amount.GreaterThanOrEqual(maxAmount) {
		return r, decimal.Decimal{}, apperr.New(apperr.InvalidRequest, "amount out of range")
	}
	if !amount.Equal(amount.Truncate(maxAmountScale)) {
		return r, decimal.Decimal{}, apperr.New(apperr.InvalidRequest, "amount has too many decimal places")
	}
	if len(r.Currency) != 3 || !isAlnum(r.Currency, false) {
		return r, decimal.Decimal{}, apperr.New(apperr.InvalidRequest, "currency must be a 3-letter code")
	}
	if n := len(r.SwiftCode); (n != 8 && n != 11) || !isAlnum(r.SwiftCode, true) {
		return r, decimal.Decimal{}, apperr.New(apperr.InvalidRequest, "swift code must be 8 or 11 characters")
	}
	if n := len(r.RecipientAccount); n == 0 || n > 34 || !isAlnum(r.RecipientAccount, true) {
		return r, decimal.Decimal{}, apperr.New(apperr.InvalidRequest, "recipient account is invalid")
	}
	return r, amount, nil
}

func isAlnum(s string, digits bool) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case digits && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// ListFilter narrows List. CustomerID is forced by the handler for customers.
type ListFilter struct {
	CustomerID string
	Status     Status
	Limit      int
	Offset     int
}

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
