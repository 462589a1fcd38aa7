package terraform

import (
	"errors"
	"fmt"
	"strings"
)

// outputTailLines bounds how much captured tool output is inlined into
// the error message; the full output stays on the struct.
const outputTailLines = 20

// ProvisioningToolError reports a failed invocation of the external
// provisioning executable, with its captured output attached so the
// user sees what the tool itself said.
type ProvisioningToolError struct {
	// Command is the subcommand that failed ("init", "apply", ...).
	Command string `json:"command"`

	// ExitCode is the tool's exit code, -1 when it never ran.
	ExitCode int `json:"exitCode"`

	// Output is the combined stdout/stderr of the invocation.
	Output string `json:"output,omitempty"`

	// Err is the underlying execution error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ProvisioningToolError) Error() string {
	msg := fmt.Sprintf("provisioning tool %s failed (exit %d)", e.Command, e.ExitCode)
	if tail := outputTail(e.Output); tail != "" {
		msg += ":\n" + tail
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProvisioningToolError) Unwrap() error {
	return e.Err
}

// IsProvisioningTool reports whether err is (or wraps) a
// ProvisioningToolError.
func IsProvisioningTool(err error) bool {
	var pe *ProvisioningToolError
	return errors.As(err, &pe)
}

// outputTail returns the last lines of the captured output.
func outputTail(output string) string {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return ""
	}
	lines := strings.Split(output, "\n")
	if len(lines) > outputTailLines {
		lines = lines[len(lines)-outputTailLines:]
	}
	return strings.Join(lines, "\n")
}
