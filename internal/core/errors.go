package core

import "fmt"

// ErrorKind enumerates the error taxonomy from spec §7. Callers branch on
// Kind rather than on error string contents or type assertions alone.
type ErrorKind string

const (
	ErrKindFetch     ErrorKind = "fetch_error"
	ErrKindEmbed     ErrorKind = "embed_error"
	ErrKindUpsert    ErrorKind = "upsert_error"
	ErrKindIndex     ErrorKind = "index_error"
	ErrKindFilter    ErrorKind = "filter_error"
	ErrKindAnswer    ErrorKind = "answer_error"
	ErrKindConflict  ErrorKind = "conflict_error"
	ErrKindCancelled ErrorKind = "cancelled"
)

// Error is the core's structured error type. Message is safe to surface to
// a caller; stack traces and internal detail never leave the process (they
// are logged separately by observability.ErrorHandler).
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a tagged core.Error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrKindIndex (the
// generic aggregated-failure kind) when err is not a *core.Error.
func KindOf(err error) ErrorKind {
	var ce *Error
	if err == nil {
		return ""
	}
	if asError(err, &ce) {
		return ce.Kind
	}
	return ErrKindIndex
}

func asError(err error, target **Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
