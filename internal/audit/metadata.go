package audit

import (
	"encoding/json"
	"fmt"
)

// Metadata is the structured payload of an entry. Each action accepts exactly
// one metadata kind, so the serialized shape is fixed per action.
type Metadata interface {
	Kind() MetadataKind
}

type MetadataKind string

const (
	KindToken   MetadataKind = "token"
	KindPayment MetadataKind = "payment"
	KindFailure MetadataKind = "failure"
	KindLogin   MetadataKind = "login"
)

// TokenMetadata accompanies issuance and consumption of action tokens.
type TokenMetadata struct {
	JTI       string `json:"jti"`
	Action    string `json:"action"`
	Subject   string `json:"subject"`
	PaymentID string `json:"paymentId,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (TokenMetadata) Kind() MetadataKind { return KindToken }
func (m TokenMetadata) tokenID() string  { return m.JTI }

// PaymentMetadata accompanies payment lifecycle events.
type PaymentMetadata struct {
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
	FromStatus    string `json:"fromStatus,omitempty"`
	ToStatus      string `json:"toStatus"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	ActorID       string `json:"actorId"`
	JTI           string `json:"jti,omitempty"`
}

func (PaymentMetadata) Kind() MetadataKind { return KindPayment }

// FailureMetadata records a refused sensitive action. Reason is the internal
// error kind; it is never shown to the caller.
type FailureMetadata struct {
	Reason    string `json:"reason"`
	ActorID   string `json:"actorId,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
	JTI       string `json:"jti,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (FailureMetadata) Kind() MetadataKind { return KindFailure }
func (m FailureMetadata) tokenID() string  { return m.JTI }

// LoginMetadata accompanies authentication outcomes.
type LoginMetadata struct {
	Username       string `json:"username"`
	PrincipalType  string `json:"principalType,omitempty"`
	FailedAttempts int    `json:"failedAttempts"`
	LockedUntil    string `json:"lockedUntil,omitempty"`
}

func (LoginMetadata) Kind() MetadataKind { return KindLogin }

type tokenBound interface {
	tokenID() string
}

var metadataKinds = map[Action]MetadataKind{
	ActionTokenIssued:    KindToken,
	ActionTokenConsumed:  KindToken,
	ActionPaymentCreated: KindPayment,
	ActionVerified:       KindPayment,
	ActionSubmittedSwift: KindPayment,
	ActionVerifyFailed:   KindFailure,
	ActionSubmitFailed:   KindFailure,
	ActionLoginSucceeded: KindLogin,
	ActionLoginFailed:    KindLogin,
	ActionAccountLocked:  KindLogin,
}

// encodeMetadata serializes m once and lifts the token id, if any, into its own column.
// Struct fields marshal in declaration order, which keeps the bytes stable.
func encodeMetadata(action Action, m Metadata) (*string, string, error) {
	want, known := metadataKinds[action]
	if !known {
		return nil, "", fmt.Errorf("audit: unknown action %q", action)
	}
	if m == nil {
		return nil, "", nil
	}
	if m.Kind() != want {
		return nil, "", fmt.Errorf("audit: action %s expects %s metadata, got %s", action, want, m.Kind())
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, "", fmt.Errorf("audit: encode metadata: %w", err)
	}
	s := string(b)
	jti := ""
	if tb, ok := m.(tokenBound); ok {
		jti = tb.tokenID()
	}
	return &s, jti, nil
}
