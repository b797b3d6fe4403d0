// internal/services/errors.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/store"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindExpired
	KindRevoked
	KindSuspended
	KindLimitExceeded
	KindPermissionDenied
	KindDuplicateKeyRetryExhausted
	KindValidationFailed
	KindStoreUnavailable
	KindInvalidTransition
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindRevoked:
		return "revoked"
	case KindSuspended:
		return "suspended"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindPermissionDenied:
		return "permission_denied"
	case KindDuplicateKeyRetryExhausted:
		return "duplicate_key_retry_exhausted"
	case KindValidationFailed:
		return "validation_failed"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindInvalidTransition:
		return "invalid_transition"
	}
	return "internal"
}

// Error is the single error type returned by the licensing services.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// fromStore classifies a store failure. Domain rejections that callers
// need to distinguish are mapped before reaching here.
func fromStore(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return wrapError(KindNotFound, err, "%s not found", what)
	case errors.Is(err, store.ErrUnavailable):
		return wrapError(KindStoreUnavailable, err, "license store unavailable")
	case errors.Is(err, store.ErrLockTimeout):
		return wrapError(KindStoreUnavailable, err, "license is busy")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return wrapError(KindStoreUnavailable, err, "request cancelled")
	}
	return wrapError(KindInternal, err, "failed to access %s", what)
}

// statusError maps a non-active status onto its rejection kind.
func statusError(status models.LicenseStatus) *Error {
	switch status {
	case models.LicenseStatusExpired:
		return newError(KindExpired, "license has expired")
	case models.LicenseStatusRevoked:
		return newError(KindRevoked, "license has been revoked")
	case models.LicenseStatusSuspended:
		return newError(KindSuspended, "license is suspended")
	}
	return newError(KindInternal, "license is %s", status)
}
