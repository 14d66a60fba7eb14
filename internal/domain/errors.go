package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Kind is the stable machine-readable code of an expected failure.
type Kind string

const (
	KindUserNotFound          Kind = "user_not_found"
	KindAlreadyVerified       Kind = "already_verified"
	KindNoPendingVerification Kind = "no_pending_verification"
	KindCodeMismatch          Kind = "code_mismatch"
	KindCodeExpired           Kind = "code_expired"
	KindInvalidToken          Kind = "invalid_token"
	KindPasswordMismatch      Kind = "password_mismatch"
	KindWeakPassword          Kind = "weak_password"
	KindStorageUnavailable    Kind = "storage_unavailable"
	KindNotifierUnavailable   Kind = "notifier_unavailable"
)

// Error is a classified failure of the verification and recovery flows.
// Values are compared by identity, so wrapped sentinels match with errors.Is.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrUserNotFound          = &Error{KindUserNotFound, "no account is registered with this email"}
	ErrAlreadyVerified       = &Error{KindAlreadyVerified, "email is already verified"}
	ErrNoPendingVerification = &Error{KindNoPendingVerification, "no pending verification code; request a new one"}
	ErrCodeMismatch          = &Error{KindCodeMismatch, "verification code is incorrect"}
	ErrCodeExpired           = &Error{KindCodeExpired, "verification code has expired; request a new one"}
	ErrInvalidToken          = &Error{KindInvalidToken, "reset link is invalid or has expired"}
	ErrPasswordMismatch      = &Error{KindPasswordMismatch, "passwords do not match"}
	ErrWeakPassword          = &Error{KindWeakPassword, "password does not meet the policy"}
	ErrStorageUnavailable    = &Error{KindStorageUnavailable, "storage is unavailable"}
	ErrNotifierUnavailable   = &Error{KindNotifierUnavailable, "email could not be delivered"}
)

// WeakPasswordError carries the policy rules a rejected password broke.
type WeakPasswordError struct {
	Violations []string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWeakPassword.Message, strings.Join(e.Violations, ", "))
}

func (e *WeakPasswordError) Is(target error) bool { return target == ErrWeakPassword }

// Unavailable wraps an infrastructure failure so it matches ErrStorageUnavailable
// while keeping the cause for logs.
func Unavailable(op string, err error) error {
	return &storageError{op: op, err: err}
}

type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string { return e.op + ": " + e.err.Error() }

func (e *storageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.err} }

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrWeakPassword) {
		return KindWeakPassword
	}
	return ""
}
