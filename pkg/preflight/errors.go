package preflight

import (
	"errors"
	"fmt"
	"strings"

	"github.com/twinforge/twinforge/pkg/registry"
)

// PreflightError blocks a layer's deployment because required resources
// of the prior layer are absent. Every missing resource is named; the
// caller never has to fix-and-rerun one resource at a time.
type PreflightError struct {
	// Layer is the layer whose deployment was blocked.
	Layer registry.Layer `json:"layer"`

	// Provider is the provider whose live state was queried.
	Provider registry.Provider `json:"provider"`

	// Missing lists the human-readable names of absent resources.
	Missing []string `json:"missing,omitempty"`

	// Err aggregates the individual findings.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *PreflightError) Error() string {
	detail := ""
	if e.Err != nil {
		detail = e.Err.Error()
	} else if len(e.Missing) > 0 {
		detail = strings.Join(e.Missing, "; ")
	}
	return fmt.Sprintf("preflight blocked for %s on %s: %s", e.Layer, e.Provider, detail)
}

// Unwrap returns the aggregated findings.
func (e *PreflightError) Unwrap() error {
	return e.Err
}

// IsPreflight reports whether err is (or wraps) a PreflightError.
func IsPreflight(err error) bool {
	var pe *PreflightError
	return errors.As(err, &pe)
}
