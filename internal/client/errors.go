package client

import (
	"errors"
	"fmt"

	"aviary/internal/domain"
)

// Client-side precondition failures. All of these are raised before any
// network I/O.
var (
	// ErrMissingIdentifier means no uuid or url was provided for an object.
	ErrMissingIdentifier = errors.New("no uuid or url provided for the object")

	// ErrNothingToPatch means a patch call supplied no fields to change.
	ErrNothingToPatch = errors.New("nothing to patch")

	// ErrInvalidInput means a cost estimate was requested for something
	// that is neither a job nor a survey.
	ErrInvalidInput = errors.New("input must be either a job or a survey")

	// ErrNoSignedURL means the server did not return an upload signed url
	// for a scenario create.
	ErrNoSignedURL = errors.New("no upload signed url was provided")

	// ErrNoFileStoreSignedURL means file store metadata was declared but the
	// server returned no file store signed url.
	ErrNoFileStoreSignedURL = errors.New("no file store signed url was provided")

	// ErrLoginTimeout means the login poll elapsed without a key being issued.
	ErrLoginTimeout = errors.New("timed out waiting for login")

	// ErrRetryAfterRecovery means the invalid-credential recovery flow ran;
	// the original operation was abandoned and must be retried by the caller.
	ErrRetryAfterRecovery = errors.New("credentials were refreshed; retry the operation")
)

// InvalidURLError reports a reference URL that does not match the
// /content/<uuid> or /content/<owner>/<alias> grammar.
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid URL format, must end with /content/<uuid> or /content/<username>/<alias>: %s", e.URL)
}

// InvalidMethodError reports an unsupported HTTP verb, rejected before any
// network I/O.
type InvalidMethodError struct {
	Method string
}

func (e *InvalidMethodError) Error() string {
	return fmt.Sprintf("invalid method %q", e.Method)
}

// ConnectionError reports a transport-level failure reaching the server.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to the server at %s", e.URL)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ServerError reports a 4xx/5xx response, or a response body that could
// not be decoded.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// TypeMismatchError reports a fetched object whose stored type differs
// from the expected one.
type TypeMismatchError struct {
	Expected domain.ObjectType
	Got      domain.ObjectType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("expected object type %q but got %q", e.Expected, e.Got)
}

// FilterValueError reports list filter values outside their enumerated
// domain.
type FilterValueError struct {
	Reason string
}

func (e *FilterValueError) Error() string { return e.Reason }
