package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrGenerationParse marks text-generation output that could not be decoded.
	ErrGenerationParse = stderrors.New("generation parse error")
	// ErrSynthesis marks TTS or silence-generation failures.
	ErrSynthesis = stderrors.New("synthesis error")
	// ErrAssembly marks muxing, probing or "nothing to assemble" failures.
	ErrAssembly = stderrors.New("assembly error")
	// ErrPrecondition marks invalid inputs rejected before any I/O.
	ErrPrecondition = stderrors.New("precondition error")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = stderrors.New("invalid argument")
)

// Error pairs one of the sentinel kinds with the operation and cause.
// errors.Is matches both the kind and anything in the cause chain.
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

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func GenerationParse(op string, err error) error {
	return &Error{Kind: ErrGenerationParse, Op: op, Err: err}
}

func Synthesis(op string, err error) error {
	return &Error{Kind: ErrSynthesis, Op: op, Err: err}
}

func Assembly(op string, err error) error {
	return &Error{Kind: ErrAssembly, Op: op, Err: err}
}

func Precondition(format string, args ...any) error {
	return &Error{Kind: ErrPrecondition, Op: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries the given kind.
func Is(err, kind error) bool { return stderrors.Is(err, kind) }
