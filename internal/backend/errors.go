package backend

import (
	"errors"
	"fmt"
)

// Kind classifies adapter failures for the scheduler's retry policy.
type Kind int

const (
	// KindRateLimited: the provider asked us to slow down. The caller
	// retries the same unit after a backoff delay.
	KindRateLimited Kind = iota
	// KindAuth: bad or missing credentials. Never retried.
	KindAuth
	// KindNetwork: transport failure or timeout. Transient, retried.
	KindNetwork
	// KindProvider: the provider rejected this particular request.
	// Unit-level failure, isolated, not retried.
	KindProvider
	// KindConfig: the adapter was constructed with invalid settings.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "RateLimited"
	case KindAuth:
		return "Auth"
	case KindNetwork:
		return "Network"
	case KindProvider:
		return "Provider"
	case KindConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// Error is a classified adapter failure.
type Error struct {
	Kind    Kind
	Service string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Kind, e.Service, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" | cause: %v", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind Kind, service, message string) *Error {
	return &Error{Kind: kind, Service: service, Message: message}
}

func WrapError(kind Kind, service, message string, cause error) *Error {
	return &Error{Kind: kind, Service: service, Message: message, Cause: cause}
}

func IsKind(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

func IsRateLimited(err error) bool {
	return IsKind(err, KindRateLimited)
}

// IsFatal reports whether the failure should stop the whole run rather
// than just the unit that triggered it.
func IsFatal(err error) bool {
	return IsKind(err, KindAuth) || IsKind(err, KindConfig)
}

// IsTransient reports whether a retry of the same request may succeed.
// Timeouts are classified as network failures by the adapters, so both
// retry paths converge here.
func IsTransient(err error) bool {
	return IsKind(err, KindNetwork) || IsKind(err, KindRateLimited)
}
