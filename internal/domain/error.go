package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound              = errors.New("entity not found")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidTransition     = errors.New("purchase status transition not allowed")
	ErrPendingPurchaseExists = errors.New("a pending purchase already exists for this journey")
	ErrPurchaseTerminal      = errors.New("purchase is already in a terminal state")
	ErrPaymentDeclined       = errors.New("payment declined")
	ErrSessionExpired        = errors.New("session expired")
	ErrUpstreamUnavailable   = errors.New("purchase service unavailable")

	// Storage errors
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// ErrorKind classifies a failed gateway call so callers can pick between
// retrying, re-fetching canonical state, or navigating away.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindServer     ErrorKind = "server"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindDeclined   ErrorKind = "declined"
	KindSession    ErrorKind = "session"
	KindBadRequest ErrorKind = "bad_request"
)

// GatewayError is returned by every PurchaseGateway implementation.
type GatewayError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (http %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

// Unwrap exposes both the transport cause and the sentinel matching Kind,
// so errors.Is(err, ErrPendingPurchaseExists) works on a 409 from create.
func (e *GatewayError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if s := e.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func (e *GatewayError) sentinel() error {
	switch e.Kind {
	case KindNotFound:
		return ErrNotFound
	case KindDeclined:
		return ErrPaymentDeclined
	case KindSession:
		return ErrSessionExpired
	case KindNetwork, KindServer:
		return ErrUpstreamUnavailable
	case KindBadRequest:
		return ErrInvalidArgument
	}
	return nil
}

// Retryable reports whether a manual retry of the same call may succeed.
// Conflicts are not retryable: the caller should re-read canonical state.
func (e *GatewayError) Retryable() bool {
	return e != nil && (e.Kind == KindNetwork || e.Kind == KindServer)
}

// IsConflict reports whether err is a business-rule conflict.
func IsConflict(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind == KindConflict
	}
	return errors.Is(err, ErrPendingPurchaseExists) || errors.Is(err, ErrPurchaseTerminal)
}

// IsRetryable reports whether err came from a transient network or server failure.
func IsRetryable(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Retryable()
}

// FieldErrors maps a form field to an i18n error key.
type FieldErrors map[string]string

// ValidationError carries client-local field failures. It is never produced by the server.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }
