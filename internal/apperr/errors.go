package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Unauthenticated             Kind = "UNAUTHENTICATED"
	Forbidden                   Kind = "FORBIDDEN"
	InvalidToken                Kind = "INVALID_TOKEN"
	SubjectMismatch             Kind = "SUBJECT_MISMATCH"
	WrongAction                 Kind = "WRONG_ACTION"
	TokenNotRecognized          Kind = "TOKEN_NOT_RECOGNIZED"
	TokenAlreadyUsed            Kind = "TOKEN_ALREADY_USED"
	InvalidStateTransition      Kind = "INVALID_STATE_TRANSITION"
	NotFound                    Kind = "NOT_FOUND"
	StorageFailure              Kind = "STORAGE_FAILURE"
	ConflictingIdempotentReplay Kind = "CONFLICTING_IDEMPOTENT_REPLAY"
	RequestInProgress           Kind = "REQUEST_IN_PROGRESS"
	AccountLocked               Kind = "ACCOUNT_LOCKED"
	InvalidRequest              Kind = "INVALID_REQUEST"
	Internal                    Kind = "INTERNAL_ERROR"
)

// publicTokenCode is what callers see for every action-token check failure.
const publicTokenCode = "ACTION_TOKEN_REJECTED"

// Error is the standard error type for the core.
// Message is safe to show to callers; Cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.E(apperr.NotFound)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// E returns a bare sentinel of kind k for errors.Is comparisons.
func E(k Kind) *Error { return &Error{Kind: k} }

// KindOf extracts the kind of err, defaulting to Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsTokenRejection reports kinds that must not be distinguished to callers.
func IsTokenRejection(k Kind) bool {
	switch k {
	case InvalidToken, SubjectMismatch, WrongAction, TokenNotRecognized, TokenAlreadyUsed:
		return true
	default:
		return false
	}
}

// Retryable reports whether a caller may safely retry the same request.
func Retryable(k Kind) bool {
	return k == StorageFailure || k == RequestInProgress
}

// Storage wraps a persistence error as a retryable StorageFailure, leaving
// already-classified errors untouched.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(StorageFailure, "storage unavailable", err)
}

// Public is the caller-visible rendering of an error.
type Public struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func ToPublic(err error) (int, Public) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, Public{Code: string(Internal), Message: "internal error"}
	}
	if IsTokenRejection(e.Kind) {
		return http.StatusForbidden, Public{Code: publicTokenCode, Message: "action token rejected"}
	}
	msg := e.Message
	if e.Kind == Internal || msg == "" {
		msg = http.StatusText(statusOf(e.Kind))
	}
	return statusOf(e.Kind), Public{Code: string(e.Kind), Message: msg, Retryable: Retryable(e.Kind)}
}

func statusOf(k Kind) int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case InvalidStateTransition, ConflictingIdempotentReplay, RequestInProgress:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case StorageFailure:
		return http.StatusServiceUnavailable
	case AccountLocked:
		return http.StatusLocked
	case InvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
