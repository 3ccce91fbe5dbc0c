// Package histderr defines the error kinds shared across histd's
// ingest, query, and store layers.
package histderr

import "errors"

// Kind classifies an error the way callers across the RPC boundary
// need to see it (spec section 7): the ingest loop and the query
// server both wrap underlying failures in one of these.
type Kind int

const (
	// KindInvalidInput covers malformed UDP datagrams and malformed
	// CLI arguments.
	KindInvalidInput Kind = iota
	// KindIO covers socket, file, or process-control failures.
	KindIO
	// KindStorage covers SQL constraint violations, corruption, or
	// connection failures.
	KindStorage
	// KindNotConfigured covers a client that cannot find its server
	// address.
	KindNotConfigured
	// KindOther is the catch-all used when crossing the RPC boundary.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindIO:
		return "IoError"
	case KindStorage:
		return "StorageError"
	case KindNotConfigured:
		return "NotConfigured"
	default:
		return "OtherError"
	}
}

// Error is a typed error carrying a Kind alongside the usual message
// and wrapped cause, so callers can branch on errors.As without string
// matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// InvalidInput wraps cause (if any) as a KindInvalidInput error.
func InvalidInput(msg string, cause error) error { return newErr(KindInvalidInput, msg, cause) }

// IO wraps cause as a KindIO error.
func IO(msg string, cause error) error { return newErr(KindIO, msg, cause) }

// Storage wraps cause as a KindStorage error.
func Storage(msg string, cause error) error { return newErr(KindStorage, msg, cause) }

// NotConfigured reports that the client has no server address.
func NotConfigured(msg string) error { return newErr(KindNotConfigured, msg, nil) }

// Other wraps cause as a catch-all KindOther error.
func Other(msg string, cause error) error { return newErr(KindOther, msg, cause) }

// KindOf extracts the Kind from err, defaulting to KindOther when err
// was not constructed by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}
