package controller

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a failed controller operation. The kind is
// assigned exactly once, where the HTTP response is read, so callers
// never have to inspect error strings.
type ErrorKind int

const (
	// KindNetwork covers timeouts and connection-level failures.
	KindNetwork ErrorKind = iota

	// KindUnauthenticated means the session expired mid-flight (401).
	KindUnauthenticated

	// KindRateLimited means the request was refused by authorization
	// or rate-limit policy (402, 403, 429).
	KindRateLimited

	// KindAuth means a login attempt was rejected.
	KindAuth

	// KindServer covers 5xx responses.
	KindServer

	// KindBadResponse covers unexpected statuses and unparseable bodies.
	KindBadResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	default:
		return "bad_response"
	}
}

// APIError is a failed controller request with its classification.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Endpoint   string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request to %s failed (HTTP %d): %v", e.Kind, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request to %s failed: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// CooldownError is returned by Login while the login cooldown window is
// open. No network call was made.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("login temporarily disabled for another %s after repeated failures", e.Remaining.Round(time.Second))
}

// kindForStatus maps an HTTP status to an error kind. This is the only
// place rejection-class detection happens.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthenticated
	case status == http.StatusPaymentRequired,
		status == http.StatusForbidden,
		status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServer
	default:
		return KindBadResponse
	}
}

// errKind extracts the kind from an error chain, KindNetwork being the
// conservative default for wrapped transport errors.
func errKind(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

// IsRateLimited reports whether err is a rejection-class failure.
func IsRateLimited(err error) bool {
	k, ok := errKind(err)
	return ok && k == KindRateLimited
}

// IsUnauthenticated reports whether err is a 401-class failure.
func IsUnauthenticated(err error) bool {
	k, ok := errKind(err)
	return ok && k == KindUnauthenticated
}

// IsNetwork reports whether err is a connection-level failure.
func IsNetwork(err error) bool {
	k, ok := errKind(err)
	return ok && k == KindNetwork
}

// IsCooldown reports whether err is a login-cooldown rejection.
func IsCooldown(err error) bool {
	var cdErr *CooldownError
	return errors.As(err, &cdErr)
}
