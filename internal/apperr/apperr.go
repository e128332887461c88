package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a job level failure.
// Each kind maps to a distinct process exit code.
type Kind int

// Failure kinds.
const (
	Unexpected Kind = iota
	InvalidArgs
	Configuration
	Connection
	SourceUnavailable
	Transformation
	Load
	InsufficientResources
	ConcurrentRun
)

var kindNames = map[Kind]string{
	Unexpected:            "unexpected",
	InvalidArgs:           "invalid arguments",
	Configuration:         "configuration",
	Connection:            "connection",
	SourceUnavailable:     "extraction",
	Transformation:        "transformation",
	Load:                  "loading",
	InsufficientResources: "insufficient resources",
	ConcurrentRun:         "concurrent execution",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ExitCode returns the process exit code for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case InvalidArgs:
		return 1
	case Configuration:
		return 2
	case Connection:
		return 3
	case SourceUnavailable:
		return 4
	case Transformation:
		return 5
	case Load:
		return 6
	case InsufficientResources:
		return 7
	case ConcurrentRun:
		return 8
	}
	return 9
}

// Error is a classified job level error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String() + " error: " + e.Err.Error()
	}
	return e.Kind.String() + " error: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Cause keeps pkg/errors.Cause walking through the wrapper.
func (e *Error) Cause() error { return e.Err }

// New wraps err with a kind and the operation that failed.
// The wrapped error carries a stack trace for zerolog's pkgerrors marshaler.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(err)}
}

// Newf is New with a formatted message instead of an underlying error.
func Newf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// KindOf reports the kind of the first classified error in err's chain.
// Unclassified errors are Unexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
