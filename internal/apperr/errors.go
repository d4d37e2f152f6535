// Package apperr defines the sentinel errors shared across layers.
//
// Services wrap these with fmt.Errorf("%w: ...") and the HTTP layer maps them
// to status codes with errors.Is, so storage details never reach clients.
package apperr

import "errors"

var (
	// ErrNotFound means the requested conversation or message does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation means the input failed validation.
	ErrValidation = errors.New("validation failed")

	// ErrConflict means the operation conflicts with current state.
	ErrConflict = errors.New("resource conflict")

	// ErrUpstream means the LLM provider or another remote dependency failed.
	ErrUpstream = errors.New("upstream failure")

	// ErrInternal is an unexpected failure.
	ErrInternal = errors.New("internal server error")
)
