// Package config compiles the heterogeneous JSON project file set into a
// single validated variable bag for the external provisioning tool.
// Compilation fails fast: any missing file, missing required key, or
// incomplete credential block aborts before a single cloud call is made.
package config

import (
	"errors"
	"fmt"
)

// ConfigurationError reports invalid or missing project file content.
// It always names the file, key, or credential field that triggered it;
// required values are never silently defaulted.
type ConfigurationError struct {
	// File is the project file the error originates from.
	File string `json:"file,omitempty"`

	// Key is the missing or invalid key inside File.
	Key string `json:"key,omitempty"`

	// Provider is set for credential block errors.
	Provider string `json:"provider,omitempty"`

	// Field is the missing field inside a credential block.
	Field string `json:"field,omitempty"`

	// Message carries additional context for invalid (rather than
	// missing) values.
	Message string `json:"message,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	switch {
	case e.Provider != "" && e.Field != "":
		return fmt.Sprintf("configuration error: credential block %q is missing field %q", e.Provider, e.Field)
	case e.File != "" && e.Key != "" && e.Message != "":
		return fmt.Sprintf("configuration error: %s: key %q: %s", e.File, e.Key, e.Message)
	case e.File != "" && e.Key != "":
		return fmt.Sprintf("configuration error: %s: missing required key %q", e.File, e.Key)
	case e.File != "" && e.Err != nil:
		return fmt.Sprintf("configuration error: %s: %v", e.File, e.Err)
	case e.File != "":
		return fmt.Sprintf("configuration error: %s", e.File)
	default:
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewMissingFileError reports a project file that could not be read.
func NewMissingFileError(file string, err error) *ConfigurationError {
	return &ConfigurationError{File: file, Err: err}
}

// NewMissingKeyError reports a required key absent from a project file.
func NewMissingKeyError(file, key string) *ConfigurationError {
	return &ConfigurationError{File: file, Key: key}
}

// NewInvalidValueError reports a key whose value is present but invalid.
func NewInvalidValueError(file, key, message string) *ConfigurationError {
	return &ConfigurationError{File: file, Key: key, Message: message}
}

// NewCredentialError reports an incomplete provider credential block.
func NewCredentialError(provider, field string) *ConfigurationError {
	return &ConfigurationError{Provider: provider, Field: field}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
