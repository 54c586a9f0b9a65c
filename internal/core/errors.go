package core

import (
	"errors"

	kinds "gopkg.in/src-d/go-errors.v1"
)

// Error kinds returned by composition and finalization. Nothing at this layer
// is retried: a failed call leaves no partial tree for the printer.
var (
	// ErrUnsupported is returned for structurally valid requests that cannot
	// be expressed as a single SELECT tree.
	ErrUnsupported = kinds.NewKind("unsupported construct: %s")
	// ErrInvariantViolation signals an internal contradiction in the tree.
	ErrInvariantViolation = kinds.NewKind("invariant violation: %s")
	// ErrProjectionMemberNotFound is returned when a projection member has no mapping.
	ErrProjectionMemberNotFound = kinds.NewKind("projection member %q not found")
)

// IsUnsupported reports whether err is (or wraps) an unsupported-construct error.
func IsUnsupported(err error) bool {
	return isKind(ErrUnsupported, err)
}

// IsInvariantViolation reports whether err is (or wraps) an invariant violation.
func IsInvariantViolation(err error) bool {
	return isKind(ErrInvariantViolation, err)
}

func isKind(k *kinds.Kind, err error) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if k.Is(err) {
			return true
		}
	}
	return false
}
