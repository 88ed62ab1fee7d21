package tibber

import "fmt"

// APIError is the general failure category for client operations: network
// failures after retries are exhausted, GraphQL-level errors, malformed
// responses, and input validation failures.
type APIError struct {
	Op      string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AuthError is the authentication failure subtype of APIError: bad
// credentials or a missing/invalid token response. It is never retried and
// callers should treat it as a signal to re-enter credentials. errors.As
// matches it both as *AuthError and, through Unwrap, as *APIError.
type AuthError struct {
	APIError
}

func (e *AuthError) Unwrap() error {
	return &e.APIError
}

func newAPIError(op, message string, err error) *APIError {
	return &APIError{Op: op, Message: message, Err: err}
}

func newAuthError(op, message string, err error) *AuthError {
	return &AuthError{APIError{Op: op, Message: message, Err: err}}
}
