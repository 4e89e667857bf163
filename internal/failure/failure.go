// Package failure defines the error kinds shared by the extraction and load sides.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for reporting and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuth: credential missing or rejected. Fatal, never retried.
	KindAuth
	// KindTransport: network, rate limit or upstream 5xx. Retried per page.
	KindTransport
	// KindData: malformed dataset content. Fatal to one load entry.
	KindData
	// KindSchema: incompatible existing table schema. Fatal to one load entry.
	KindSchema
	// KindLoad: warehouse rejected the request. Fatal to one load entry.
	KindLoad
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AuthError"
	case KindTransport:
		return "TransportError"
	case KindData:
		return "DataError"
	case KindSchema:
		return "SchemaError"
	case KindLoad:
		return "LoadError"
	default:
		return "Error"
	}
}

// Error is a classified failure.
type Error struct {
	Kind      Kind
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error, retryable bool) *Error {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	return &Error{Kind: kind, Op: op, Err: err, Retryable: retryable}
}

func Auth(op string, err error) error { return newError(KindAuth, op, err, false) }

// Transport returns a retryable transport failure.
func Transport(op string, err error) error { return newError(KindTransport, op, err, true) }

// PermanentTransport is a transport failure retrying cannot fix, e.g. a 404 from the API.
func PermanentTransport(op string, err error) error {
	return newError(KindTransport, op, err, false)
}

func Data(op string, err error) error   { return newError(KindData, op, err, false) }
func Schema(op string, err error) error { return newError(KindSchema, op, err, false) }
func Load(op string, err error) error   { return newError(KindLoad, op, err, false) }

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindTransport && fe.Retryable
	}
	return false
}
