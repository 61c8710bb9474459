package apperr

import "errors"

// Sentinel errors for the engine's failure taxonomy. Callers classify with
// errors.Is; wrapping with fmt.Errorf("...: %w", Err...) adds detail without
// losing the class.
var (
	// ErrNotFound means the request/content/template id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied means the caller does not own the resource.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidState means the operation is not legal for the resource's
	// current lifecycle state (e.g. cancel on a Completed request).
	ErrInvalidState = errors.New("invalid state")

	// ErrAdmissionDenied means a rate ceiling was reached.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrResourceExhausted means the worker backlog is full.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrUpstreamFailure means the provider call failed or timed out.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrValidation means the input was malformed.
	ErrValidation = errors.New("validation failure")
)
