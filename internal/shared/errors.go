package shared

import "errors"

// Error kinds wrapped by domain sentinels so transport layers can classify
// them with errors.Is without importing every domain package.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input rejected before any state was read.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the resource is in a state that forbids the operation.
	ErrConflict = errors.New("conflict")
	// ErrBusinessRule indicates a business invariant rejected the operation.
	ErrBusinessRule = errors.New("business rule violation")
	// ErrRetryable indicates a transient failure; the whole operation may be retried.
	ErrRetryable = errors.New("retryable")
	// ErrForbidden indicates the actor lacks the required permission.
	ErrForbidden = errors.New("forbidden")
)

// DetailedError exposes structured fields for problem responses.
type DetailedError interface {
	error
	ProblemFields() map[string]any
}
