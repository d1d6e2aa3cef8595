package cloud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the closed taxonomy of cloud operation outcomes. Every error that
// leaves this package carries exactly one Kind.
type Kind string

const (
	KindAuth         Kind = "AuthError"
	KindForbidden    Kind = "ForbiddenError"
	KindNotFound     Kind = "NotFound"
	KindConflict     Kind = "ConflictError"
	KindQuota        Kind = "QuotaInsufficient"
	KindTimeout      Kind = "Timeout"
	KindSizeRejected Kind = "SizeRejected"
	KindTransient    Kind = "Transient"
	KindInternal     Kind = "Internal"
)

// Error is a classified cloud operation failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error for op.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

func isKind(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

func IsAuth(err error) bool         { return isKind(err, KindAuth) }
func IsForbidden(err error) bool    { return isKind(err, KindForbidden) }
func IsNotFound(err error) bool     { return isKind(err, KindNotFound) }
func IsConflict(err error) bool     { return isKind(err, KindConflict) }
func IsQuota(err error) bool        { return isKind(err, KindQuota) }
func IsTimeout(err error) bool      { return isKind(err, KindTimeout) }
func IsSizeRejected(err error) bool { return isKind(err, KindSizeRejected) }
func IsTransient(err error) bool    { return isKind(err, KindTransient) }

// classifyStatus maps an HTTP status code to an error Kind. 413 is reported
// as SizeRejected; the snapshot worker records it as a skip, never a failure.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusRequestEntityTooLarge:
		return KindSizeRejected
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindInternal
	default:
		return KindInternal
	}
}

// classify wraps err with the right Kind for op. Network-level failures and
// context deadlines become Transient and Timeout respectively; anything with
// an HTTP status goes through classifyStatus.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err // already classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(KindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(KindTransient, op, err)
	}
	if status, ok := statusOf(err); ok {
		return NewError(classifyStatus(status), op, err)
	}
	return NewError(KindInternal, op, err)
}
