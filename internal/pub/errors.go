package pub

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure reported by a Transport.
type Kind int

const (
	// KindUnknown is reported for errors that did not come from a Transport.
	KindUnknown Kind = iota
	// KindTransport is a network or connection failure, or an undecodable response.
	KindTransport
	// KindNotFound means the organization, topic or subscription does not exist.
	KindNotFound
	// KindConflict means the service detected a concurrent read.
	KindConflict
	// KindBadRequest means the request was malformed.
	KindBadRequest
	// KindServerError is a remote fault.
	KindServerError
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrTransport   = errors.New("transport failure")
	ErrNotFound    = errors.New("subscription, topic or organization not found")
	ErrConflict    = errors.New("conflict while reading events")
	ErrBadRequest  = errors.New("bad request")
	ErrServerError = errors.New("internal server error")
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindBadRequest:
		return ErrBadRequest
	case KindServerError:
		return ErrServerError
	default:
		return nil
	}
}

// Error is a classified failure of a remote call.
type Error struct {
	// Op is the operation that failed: "read", "commit" or "publish".
	Op string
	// Kind classifies the failure.
	Kind Kind
	// Status is the HTTP status code, 0 when no response was received.
	Status int
	// Detail is extra context such as the response body.
	Detail string
	// Err is the underlying cause, if any.
	Err error
}

// NewError builds an *Error for op of the given kind.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if s := e.Kind.sentinel(); s != nil {
		b.WriteString(s.Error())
	} else {
		b.WriteString("unclassified failure")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's Kind, so that
// errors.Is(err, ErrConflict) holds for any conflict.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// IsRetryable reports whether repeating the call may succeed: network
// failures and remote faults are retryable, client-side mistakes are not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindServerError:
		return true
	default:
		return false
	}
}
