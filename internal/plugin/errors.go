package plugin

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a fetch failure. The stream worker uses the kind to
// decide whether the next poll should be delayed.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuth
	KindNotFound
	KindRateLimited
	KindTimeout
	KindNetwork
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// FetchError is the typed error providers return from Fetch.
type FetchError struct {
	Kind    ErrorKind
	Message string
	// RetryAfter is a provider-suggested delay before the next poll, set by
	// rate-limit responses when the provider exposes one.
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AuthError reports a credential failure.
func AuthError(msg string) *FetchError {
	return &FetchError{Kind: KindAuth, Message: msg}
}

// NotFoundError reports a missing feed or device.
func NotFoundError(msg string) *FetchError {
	return &FetchError{Kind: KindNotFound, Message: msg}
}

// RateLimitedError reports provider throttling with an optional suggested
// delay.
func RateLimitedError(msg string, retryAfter time.Duration) *FetchError {
	return &FetchError{Kind: KindRateLimited, Message: msg, RetryAfter: retryAfter}
}

// TimeoutError reports a deadline hit while talking to the provider.
func TimeoutError(msg string, err error) *FetchError {
	return &FetchError{Kind: KindTimeout, Message: msg, Err: err}
}

// NetworkError reports a transport failure.
func NetworkError(msg string, err error) *FetchError {
	return &FetchError{Kind: KindNetwork, Message: msg, Err: err}
}

// ParseError reports a malformed provider response.
func ParseError(msg string, err error) *FetchError {
	return &FetchError{Kind: KindParse, Message: msg, Err: err}
}

// UnknownError wraps an unclassified failure.
func UnknownError(msg string, err error) *FetchError {
	return &FetchError{Kind: KindUnknown, Message: msg, Err: err}
}

// KindOf extracts the error kind, returning KindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// RetryAfterOf extracts the provider-suggested retry delay, if any.
func RetryAfterOf(err error) time.Duration {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}
