// Package autherr is the error taxonomy shared by every credential validator
// and authorization gate.
package autherr

import (
	"errors"
	"time"
)

var (
	ErrNoCredential            = errors.New("NoCredential")
	ErrInvalidOrExpiredToken   = errors.New("InvalidOrExpiredToken")
	ErrAuthMethodUnavailable   = errors.New("AuthMethodUnavailable")
	ErrSigningKeyNotFound      = errors.New("SigningKeyNotFound")
	ErrUnsupportedKeyType      = errors.New("UnsupportedKeyType")
	ErrJWKSFetchFailed         = errors.New("JwksFetchFailed")
	ErrInvalidAPIKey           = errors.New("InvalidApiKey")
	ErrInactiveAPIKey          = errors.New("InactiveApiKey")
	ErrExpiredAPIKey           = errors.New("ExpiredApiKey")
	ErrOrgMismatch             = errors.New("OrgMismatch")
	ErrRateLimitExceeded       = errors.New("RateLimitExceeded")
	ErrMissingScope            = errors.New("MissingScope")
	ErrWorkflowNotAllowed      = errors.New("WorkflowNotAllowed")
	ErrOrgAccessDenied         = errors.New("OrgAccessDenied")
	ErrInsufficientPermissions = errors.New("InsufficientPermissions")
)

// Code returns the stable wire code of a taxonomy error, or "" when err is
// not part of the taxonomy.
func Code(err error) string {
	for _, known := range all {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ""
}

var all = []error{
	ErrNoCredential,
	ErrInvalidOrExpiredToken,
	ErrAuthMethodUnavailable,
	ErrSigningKeyNotFound,
	ErrUnsupportedKeyType,
	ErrJWKSFetchFailed,
	ErrInvalidAPIKey,
	ErrInactiveAPIKey,
	ErrExpiredAPIKey,
	ErrOrgMismatch,
	ErrRateLimitExceeded,
	ErrMissingScope,
	ErrWorkflowNotAllowed,
	ErrOrgAccessDenied,
	ErrInsufficientPermissions,
}

// DeniedError is a 403 that echoes what was required and what the caller had.
type DeniedError struct {
	Err      error
	Required any
	Current  any
}

func (e *DeniedError) Error() string { return e.Err.Error() }
func (e *DeniedError) Unwrap() error { return e.Err }

func Denied(err error, required, current any) error {
	return &DeniedError{Err: err, Required: required, Current: current}
}

// RateLimitError carries the time until the caller may retry.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return ErrRateLimitExceeded.Error() }
func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// RetryAfterSeconds rounds up and never returns less than one second.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
