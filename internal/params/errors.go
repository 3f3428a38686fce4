package params

import "errors"

// Sentinel errors returned by Set operations. Callers match with errors.Is.
var (
	// ErrUnknownParameter is returned when a name has not been declared with Add
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrTypeMismatch is returned when a value cannot be assigned or coerced
	// to the declared kind
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrImmutableViolation is returned when an immutable parameter already
	// holding a value is assigned again
	ErrImmutableViolation = errors.New("immutable parameter already set")

	// ErrVerifyFailed is returned when the declared verify predicate rejects
	// an assigned value
	ErrVerifyFailed = errors.New("verification failed")

	// ErrDuplicateParameter is returned when Add is called twice for one name
	ErrDuplicateParameter = errors.New("parameter already declared")
)
