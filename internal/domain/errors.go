package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrConfiguration indicates missing credentials or an invalid store setup.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedFormat indicates a source file extension no reader handles.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrIngestion indicates a source could not be read or appended.
	ErrIngestion = errors.New("ingestion error")

	// ErrRetrieval indicates the similarity search failed.
	ErrRetrieval = errors.New("retrieval error")

	// ErrGeneration indicates the answer-generation call failed.
	ErrGeneration = errors.New("generation error")
)

// Error carries an error kind, the failing operation and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap returns an *Error of the given kind. A nil err yields an error that
// only describes op.
func Wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configurationf builds an ErrConfiguration error from a format string.
func Configurationf(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Op: fmt.Sprintf(format, args...)}
}
