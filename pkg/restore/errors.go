package restore

import (
	"errors"
	"fmt"
)

// Kind is the closed taxonomy of restore-surface refusals. These map to 4xx
// responses; cloud-side failures keep their cloud.Kind classification.
type Kind string

const (
	KindUnsupportedBootMode  Kind = "UnsupportedBootMode"
	KindSnapshotNotFound     Kind = "SnapshotNotFound"
	KindSnapshotMismatch     Kind = "SnapshotMismatch"
	KindVMNotFound           Kind = "VMNotFound"
	KindConcurrentRestore    Kind = "ConcurrentRestore"
	KindConfirmationRequired Kind = "ConfirmationRequired"
	KindJobNotFound          Kind = "JobNotFound"
	KindInvalidRequest       Kind = "InvalidRequest"
)

// Error is a structured refusal surfaced to the HTTP layer before any cloud
// mutation happens.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a refusal of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the refusal kind, reporting false for cloud or store errors.
func KindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a refusal of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
