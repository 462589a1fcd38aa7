package orchestrator

import (
	"errors"
	"strings"

	"github.com/twinforge/twinforge/pkg/policy"
)

// PolicyRejectionError reports that the policy gate blocked a run
// before any cloud mutation.
type PolicyRejectionError struct {
	// Violations are the blocking policy violations.
	Violations []policy.Violation
}

// Error implements the error interface.
func (e *PolicyRejectionError) Error() string {
	var b strings.Builder
	b.WriteString("deployment rejected by policy: ")
	for i, v := range e.Violations {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(v.Policy)
		b.WriteString(": ")
		b.WriteString(v.Message)
	}
	return b.String()
}

// IsPolicyRejection reports whether err is a PolicyRejectionError.
func IsPolicyRejection(err error) bool {
	var pe *PolicyRejectionError
	return errors.As(err, &pe)
}

// blockingViolations filters a policy result down to the violations
// that block a run.
func blockingViolations(result *policy.Result) []policy.Violation {
	var out []policy.Violation
	for _, v := range result.Violations {
		if v.Severity == policy.SeverityError || v.Severity == policy.SeverityCritical {
			out = append(out, v)
		}
	}
	return out
}
