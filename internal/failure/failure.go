package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a render job failed. Kinds are themselves errors so callers
// can match with errors.Is(err, failure.EncodingFailure).
type Kind string

const (
	InvalidInput           Kind = "invalid_input"
	SynthesisFailure       Kind = "synthesis_failure"
	SceneBuildFailure      Kind = "scene_build_failure"
	InvalidTransition      Kind = "invalid_transition"
	EncodingFailure        Kind = "encoding_failure"
	ResourceCleanupFailure Kind = "resource_cleanup_failure"
	Canceled               Kind = "canceled"
)

func (k Kind) Error() string { return string(k) }

// Error carries a kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New wraps err with the given kind.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap annotates err with op. An existing kind anywhere in the chain wins over
// fallback so the originating kind reaches the caller.
func Wrap(fallback Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := KindOf(err); kind != "" {
		return &Error{Kind: kind, Op: op, Err: err}
	}
	return &Error{Kind: fallback, Op: op, Err: err}
}

// KindOf reports the kind carried by err, or "" when err is not classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	if errors.Is(err, context.Canceled) {
		return Canceled
	}
	return ""
}

// Cause returns the human readable cause without the kind prefix.
func Cause(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
