// Package apperr defines the error taxonomy shared by the booking components.
// Every failure crossing a component boundary is an *Error carrying a kind, a
// user-facing message and retry guidance.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindAuthExpired    Kind = "auth_expired"
	KindPaymentUI      Kind = "payment_ui"
	KindPaymentNonce   Kind = "payment_nonce"
	KindServer         Kind = "server"
	KindNotCancellable Kind = "not_cancellable"
	KindNotReviewable  Kind = "not_reviewable"
	KindBusy           Kind = "busy"
	KindNotFound       Kind = "not_found"
)

// Retry tells the caller what must happen before the action may be tried again.
type Retry string

const (
	RetryNever                Retry = "never"
	RetryFixInput             Retry = "fix_input"
	RetryNewSlot              Retry = "new_slot"
	RetryWithNewAuthorization Retry = "new_authorization"
	RetryAfterRefetch         Retry = "refetch"
	RetryAfterLogin           Retry = "login"
	RetryLater                Retry = "later"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrAuthExpired    = &Error{Kind: KindAuthExpired}
	ErrPaymentUI      = &Error{Kind: KindPaymentUI}
	ErrPaymentNonce   = &Error{Kind: KindPaymentNonce}
	ErrServer         = &Error{Kind: KindServer}
	ErrNotCancellable = &Error{Kind: KindNotCancellable}
	ErrNotReviewable  = &Error{Kind: KindNotReviewable}
	ErrBusy           = &Error{Kind: KindBusy}
	ErrNotFound       = &Error{Kind: KindNotFound}
)

// Error is a classified failure scoped to a single booking attempt.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Retry   Retry
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can match against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// New builds an error with the default message and retry guidance for kind.
// An empty msg keeps the default message.
func New(kind Kind, op, msg string, err error) *Error {
	if msg == "" {
		msg = DefaultMessage(kind)
	}
	return &Error{Kind: kind, Op: op, Message: msg, Retry: DefaultRetry(kind), Err: err}
}

// WithRetry returns a copy of e with different retry guidance.
func (e *Error) WithRetry(r Retry) *Error {
	cp := *e
	cp.Retry = r
	return &cp
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindServer for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindServer
}

// UserMessage returns the actionable message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok && e.Message != "" {
		return e.Message
	}
	return DefaultMessage(KindServer)
}

// RetryOf returns the retry guidance for err.
func RetryOf(err error) Retry {
	if e, ok := As(err); ok && e.Retry != "" {
		return e.Retry
	}
	return DefaultRetry(KindOf(err))
}

// DefaultMessage is the user-facing text used when no specific message is known.
func DefaultMessage(kind Kind) string {
	switch kind {
	case KindNetwork:
		return "We could not confirm the result. Refresh your bookings before trying again."
	case KindValidation:
		return "Some details need to be corrected before you can continue."
	case KindConflict:
		return "This slot was already booked by someone else. Any charge will be refunded. Please pick a different slot."
	case KindAuthExpired:
		return "Your session has expired. Please sign in again."
	case KindPaymentUI:
		return "The payment form is not ready yet. Please wait a moment and try again."
	case KindPaymentNonce:
		return "We could not authorize your payment method. Please check your details and try again."
	case KindNotCancellable:
		return "This appointment can no longer be cancelled."
	case KindNotReviewable:
		return "This appointment cannot be reviewed right now."
	case KindBusy:
		return "This request is already being processed."
	case KindNotFound:
		return "We could not find what you were looking for."
	default:
		return "Something went wrong on our side. Please request a new payment authorization and try again."
	}
}

// DefaultRetry is the retry guidance attached to a kind by New.
func DefaultRetry(kind Kind) Retry {
	switch kind {
	case KindNetwork:
		return RetryAfterRefetch
	case KindValidation:
		return RetryFixInput
	case KindConflict:
		return RetryNewSlot
	case KindAuthExpired:
		return RetryAfterLogin
	case KindPaymentUI, KindBusy:
		return RetryLater
	case KindPaymentNonce, KindServer:
		return RetryWithNewAuthorization
	default:
		return RetryNever
	}
}

// HTTPStatus maps a kind onto the status returned by the BFF.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthExpired:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindBusy:
		return http.StatusConflict
	case KindNotCancellable, KindNotReviewable:
		return http.StatusUnprocessableEntity
	case KindPaymentUI, KindPaymentNonce:
		return http.StatusPaymentRequired
	case KindNetwork:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
