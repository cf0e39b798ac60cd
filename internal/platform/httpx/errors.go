// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ErrUnauthorized indicates the request carried no actor.
var ErrUnauthorized = errors.New("unauthorized")

// Status returns the HTTP status RespondError would use for err.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrBusinessRule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrRetryable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Internal
// errors are answered without detail; callers log them.
func RespondError(w http.ResponseWriter, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, "Internal Error", "")
		return
	}
	problem := ProblemDetail{
		Title:  titleFor(err, status),
		Status: status,
		Detail: err.Error(),
	}
	var detailed shared.DetailedError
	if errors.As(err, &detailed) {
		problem.Extensions = detailed.ProblemFields()
	}
	if errors.Is(err, shared.ErrRetryable) {
		if problem.Extensions == nil {
			problem.Extensions = map[string]any{}
		}
		problem.Extensions["retryable"] = true
	}
	WriteProblem(w, problem)
}

func titleFor(err error, status int) string {
	switch {
	case errors.Is(err, shared.ErrRetryable):
		return "Concurrency Conflict"
	case errors.Is(err, shared.ErrBusinessRule):
		return "Business Rule Violation"
	case status == http.StatusBadRequest:
		return "Validation Failed"
	}
	return http.StatusText(status)
}
