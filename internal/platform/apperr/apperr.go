// Package apperr defines the stable error kinds returned by the domain
// services and the echo error handler that renders them.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindTenantNotFound         Kind = "TENANT_NOT_FOUND"
	KindTenantInactive         Kind = "TENANT_INACTIVE"
	KindTenantExists           Kind = "TENANT_EXISTS"
	KindDuplicateUser          Kind = "DUPLICATE_USER"
	KindInvalidCredentials     Kind = "INVALID_CREDENTIALS"
	KindAccountNotActive       Kind = "ACCOUNT_NOT_ACTIVE"
	KindInvalidRefreshToken    Kind = "INVALID_REFRESH_TOKEN"
	KindInvalidOrExpiredToken  Kind = "INVALID_OR_EXPIRED_TOKEN"
	KindUserNotFound           Kind = "USER_NOT_FOUND"
	KindInvalidCurrentPassword Kind = "INVALID_CURRENT_PASSWORD"
	KindNoActiveSubscription   Kind = "NO_ACTIVE_SUBSCRIPTION"
	KindQuotaExceeded          Kind = "QUOTA_EXCEEDED"
	KindUnauthorized           Kind = "UNAUTHORIZED"
	KindForbidden              Kind = "FORBIDDEN"
	KindValidation             Kind = "VALIDATION_ERROR"
	KindNotFound               Kind = "NOT_FOUND"
	KindConflict               Kind = "CONFLICT"
	KindInternal               Kind = "INTERNAL_ERROR"
)

// Error is a typed rejection carrying a Kind and a human message. The
// wrapped Err, if any, is kept for logging and is never rendered.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinel values below work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinels for errors.Is comparisons.
var (
	ErrTenantNotFound         = New(KindTenantNotFound, "tenant not found")
	ErrTenantInactive         = New(KindTenantInactive, "tenant is inactive")
	ErrTenantExists           = New(KindTenantExists, "tenant with this name already exists")
	ErrDuplicateUser          = New(KindDuplicateUser, "user with this email already exists")
	ErrInvalidCredentials     = New(KindInvalidCredentials, "invalid credentials")
	ErrAccountNotActive       = New(KindAccountNotActive, "account is not active")
	ErrInvalidRefreshToken    = New(KindInvalidRefreshToken, "invalid refresh token")
	ErrInvalidOrExpiredToken  = New(KindInvalidOrExpiredToken, "invalid or expired token")
	ErrUserNotFound           = New(KindUserNotFound, "user not found")
	ErrInvalidCurrentPassword = New(KindInvalidCurrentPassword, "current password is incorrect")
	ErrNoActiveSubscription   = New(KindNoActiveSubscription, "active subscription not found")
	ErrQuotaExceeded          = New(KindQuotaExceeded, "subscription limit reached")
	ErrNotFound               = New(KindNotFound, "resource not found")
	ErrConflict               = New(KindConflict, "resource was modified concurrently")
)
