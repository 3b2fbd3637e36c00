package lease

import "errors"

var (
	// ErrValidation is returned when provider configuration is missing,
	// malformed, or unsafe. Fatal to the call; not worth retrying.
	ErrValidation = errors.New("invalid provider configuration")

	// ErrTemplate is returned when a lifecycle statement template fails to
	// parse or references an unresolved variable. Fatal to the call.
	ErrTemplate = errors.New("statement template rendering failed")

	// ErrConnection is returned when a backend session cannot be acquired
	// within the connection timeout. Callers may retry with backoff.
	ErrConnection = errors.New("backend connection failed")

	// ErrGateway is returned when the relay cannot be reached or rejects
	// the engine's credentials. Callers may retry with backoff.
	ErrGateway = errors.New("gateway relay unavailable")

	// ErrExecution is returned when a rendered statement fails at the
	// backend. The surrounding transaction has been rolled back.
	ErrExecution = errors.New("statement execution failed")

	// ErrKindNotFound is returned when a provider kind is not registered
	ErrKindNotFound = errors.New("provider kind not registered")

	// ErrKindAlreadyRegistered is returned when attempting to register a duplicate provider kind
	ErrKindAlreadyRegistered = errors.New("provider kind already registered")
)

// IsRetryable reports whether the error class is safe for the caller to
// retry with backoff. Validation, template and execution failures are
// terminal for the call.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrGateway)
}
