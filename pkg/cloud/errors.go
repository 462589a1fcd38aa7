// Package cloud defines the provider-neutral capability surface the
// deployment pipeline talks to: functions, device registries, twin
// graphs, and dashboards, each behind a small create/get/delete/list
// verb set. Concrete adapters translate the verbs into provider API
// calls through an injected transport and classify every failure into
// an APIError.
package cloud

import (
	"errors"
	"fmt"

	"github.com/twinforge/twinforge/pkg/registry"
)

// ErrorClass is the classification of a provider API failure. It drives
// both retry behavior and how the orchestrator reacts: already-exists is
// benign during create, not-found is benign during destroy.
type ErrorClass string

const (
	// ErrorClassAlreadyExists reports a create against a resource that is
	// already there.
	ErrorClassAlreadyExists ErrorClass = "already_exists"

	// ErrorClassNotFound reports an operation against a resource that
	// does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassThrottled reports rate limiting. Retry with backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassTransient reports a temporary provider-side failure.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassFatal reports a non-recoverable failure.
	ErrorClassFatal ErrorClass = "fatal"
)

// APIError is a classified provider API failure.
type APIError struct {
	// Provider is the cloud provider the call targeted.
	Provider registry.Provider `json:"provider"`

	// Service is the provider service ("iot_hub", "lambda", ...).
	Service string `json:"service,omitempty"`

	// Resource is the resource the call operated on, if attributable.
	Resource string `json:"resource,omitempty"`

	// Operation is the verb being performed.
	Operation string `json:"operation,omitempty"`

	// Class is the failure classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable failure description.
	Message string `json:"message"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s API (%s, resource=%s): %s", e.Class, e.Provider, e.Operation, e.Resource, e.Message)
	}
	return fmt.Sprintf("[%s] %s API (%s): %s", e.Class, e.Provider, e.Operation, e.Message)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches APIErrors by class, so callers can compare against a
// class-only template.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewAlreadyExistsError creates an already-exists APIError.
func NewAlreadyExistsError(p registry.Provider, service, resource string) *APIError {
	return &APIError{
		Provider: p,
		Service:  service,
		Resource: resource,
		Class:    ErrorClassAlreadyExists,
		Message:  "resource already exists",
	}
}

// NewNotFoundError creates a not-found APIError.
func NewNotFoundError(p registry.Provider, service, resource string) *APIError {
	return &APIError{
		Provider: p,
		Service:  service,
		Resource: resource,
		Class:    ErrorClassNotFound,
		Message:  "resource not found",
	}
}

// NewThrottledError creates a throttled APIError.
func NewThrottledError(p registry.Provider, message string, err error) *APIError {
	return &APIError{Provider: p, Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewTransientError creates a transient APIError.
func NewTransientError(p registry.Provider, message string, err error) *APIError {
	return &APIError{Provider: p, Class: ErrorClassTransient, Message: message, Err: err}
}

// NewFatalError creates a fatal APIError.
func NewFatalError(p registry.Provider, message string, err error) *APIError {
	return &APIError{Provider: p, Class: ErrorClassFatal, Message: message, Err: err}
}

// WithOperation adds the verb to the error context.
func (e *APIError) WithOperation(op string) *APIError {
	e.Operation = op
	return e
}

// WithResource adds the resource to the error context.
func (e *APIError) WithResource(resource string) *APIError {
	e.Resource = resource
	return e
}

// IsAlreadyExists reports whether err is an already-exists APIError.
func IsAlreadyExists(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Class == ErrorClassAlreadyExists
}

// IsNotFound reports whether err is a not-found APIError.
func IsNotFound(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Class == ErrorClassNotFound
}

// IsRetryable reports whether err may succeed on retry.
func IsRetryable(err error) bool {
	var e *APIError
	if !errors.As(err, &e) {
		return false
	}
	return e.Class == ErrorClassThrottled || e.Class == ErrorClassTransient
}
