// Package core provides the domain types, facet definitions and collaborator
// interfaces shared by every gachavault component.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure the pipeline can surface so callers can
// render a specific, actionable message instead of a generic one.
type ErrorKind string

const (
	// KindCacheFormat indicates a malformed cache file (bad magic, bad
	// version, or truncation). Never transient; never retried.
	KindCacheFormat ErrorKind = "cache_format"
	// KindCacheNotFound indicates a missing webCaches directory or no valid
	// versioned cache subdirectory.
	KindCacheNotFound ErrorKind = "cache_not_found"
	// KindNoUsableURL indicates the index scan completed but produced zero
	// gacha URL candidates. The user should reopen the in-game history
	// screen and retry.
	KindNoUsableURL ErrorKind = "no_usable_url"
	// KindIllegalURL indicates a recovered URL is missing the expected
	// endpoint or the facet's gacha-type query field.
	KindIllegalURL ErrorKind = "illegal_url"
	// KindAuthExpired indicates the remote API rejected the authkey
	// embedded in the URL. The URL is dead; probing the remaining
	// candidates with the same key is pointless.
	KindAuthExpired ErrorKind = "authkey_expired"
	// KindRateLimited indicates the remote API signalled too-frequent
	// access. Retried locally with backoff before being surfaced.
	KindRateLimited ErrorKind = "rate_limited"
	// KindRemoteAPI carries any other non-zero retcode verbatim.
	KindRemoteAPI ErrorKind = "remote_api"
	// KindUIDMismatch indicates imported data belongs to a different
	// account than the one selected.
	KindUIDMismatch ErrorKind = "uid_mismatch"
	// KindNoValidURL indicates the validator exhausted every candidate
	// without confirming the expected account.
	KindNoValidURL ErrorKind = "no_valid_url"
	// KindUnsupported indicates the facet does not support the requested
	// operation (for example zzz record import/export).
	KindUnsupported ErrorKind = "unsupported"
)

// Error is the one error type crossing package boundaries. Kind drives
// programmatic handling; Message is safe to show to a user; Retcode is only
// set for KindRemoteAPI and carries the remote status verbatim.
type Error struct {
	Kind    ErrorKind
	Message string
	Retcode int
	Err     error
}

func (e *Error) Error() string {
	if e.Retcode != 0 {
		return fmt.Sprintf("%s (retcode %d): %s", e.Kind, e.Retcode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to a response status for the HTTP surface.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindCacheNotFound, KindNoUsableURL, KindNoValidURL:
		return http.StatusNotFound
	case KindIllegalURL, KindUIDMismatch:
		return http.StatusBadRequest
	case KindAuthExpired:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnsupported:
		return http.StatusNotImplemented
	case KindRemoteAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewCacheFormatError reports a malformed cache file.
func NewCacheFormatError(message string, err error) *Error {
	return &Error{Kind: KindCacheFormat, Message: message, Err: err}
}

// NewCacheNotFoundError reports a missing or unusable cache directory.
func NewCacheNotFoundError(message string) *Error {
	return &Error{Kind: KindCacheNotFound, Message: message}
}

// NewNoUsableURLError reports an index scan with zero surviving candidates.
func NewNoUsableURLError(message string) *Error {
	return &Error{Kind: KindNoUsableURL, Message: message}
}

// NewIllegalURLError reports a recovered URL that cannot be used for fetching.
func NewIllegalURLError(message string) *Error {
	return &Error{Kind: KindIllegalURL, Message: message}
}

// NewAuthExpiredError reports an expired or rejected authkey.
func NewAuthExpiredError(message string) *Error {
	return &Error{Kind: KindAuthExpired, Message: message}
}

// NewRateLimitedError reports a too-frequent-access rejection.
func NewRateLimitedError(message string) *Error {
	return &Error{Kind: KindRateLimited, Message: message}
}

// NewRemoteAPIError carries any other non-zero retcode and its message
// verbatim.
func NewRemoteAPIError(retcode int, message string) *Error {
	return &Error{Kind: KindRemoteAPI, Message: message, Retcode: retcode}
}

// NewUIDMismatchError reports imported data disagreeing with the target
// account.
func NewUIDMismatchError(expected, actual string) *Error {
	return &Error{
		Kind:    KindUIDMismatch,
		Message: fmt.Sprintf("expected uid %s, got %s", expected, actual),
	}
}

// NewNoValidURLError reports that validation exhausted all candidates.
func NewNoValidURLError(message string) *Error {
	return &Error{Kind: KindNoValidURL, Message: message}
}

// NewUnsupportedError reports an operation the facet cannot perform.
func NewUnsupportedError(message string) *Error {
	return &Error{Kind: KindUnsupported, Message: message}
}

// KindOf extracts the ErrorKind from err, or "" if err is not a core error.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
