package infrastructure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so transport adapters can translate it without
// inspecting message text.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuthentication: missing or invalid credential at the connection or
	// request boundary.
	KindAuthentication
	// KindAuthorization: the caller is not the claimed user, or lacks the
	// membership/admin rights the operation requires.
	KindAuthorization
	// KindNotFound: a conversation, membership or user id does not resolve.
	KindNotFound
	// KindValidation: malformed input (wrong participant count, blank name,
	// unsupported kind, duplicate membership, self-removal).
	KindValidation
	// KindInternal: codec or storage failure not attributable to caller input.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error carries a taxonomy kind alongside a human-readable message and an
// optional wrapped cause.
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

func Authentication(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. The cause is kept for logs and is
// never shown to callers verbatim.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the taxonomy kind from err, walking wrapped errors.
// Unclassified errors report KindUnknown; adapters treat those as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
