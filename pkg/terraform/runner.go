// Package terraform invokes the external provisioning executable. The
// tool is treated as opaque: only its exit status, captured output, and
// JSON output map are consumed.
package terraform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBinary is the provisioning executable resolved from PATH.
const DefaultBinary = "terraform"

// OutputValue is one entry of the tool's JSON output map.
type OutputValue struct {
	// Value is the raw output value.
	Value json.RawMessage `json:"value"`

	// Sensitive marks values that must not be logged.
	Sensitive bool `json:"sensitive"`
}

// AsString decodes a string-typed output value; non-string values come
// back as their compact JSON form.
func (v OutputValue) AsString() string {
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		return s
	}
	return string(v.Value)
}

// Runner executes provisioning-tool subcommands in a working directory.
type Runner struct {
	binary  string
	workDir string
	logger  zerolog.Logger
}

// NewRunner creates a runner rooted at the given working directory.
func NewRunner(workDir string, logger zerolog.Logger) *Runner {
	return &Runner{
		binary:  DefaultBinary,
		workDir: workDir,
		logger:  logger.With().Str("component", "terraform").Logger(),
	}
}

// WithBinary overrides the executable path.
func (r *Runner) WithBinary(path string) *Runner {
	if path != "" {
		r.binary = path
	}
	return r
}

// Init initializes the working directory.
func (r *Runner) Init(ctx context.Context) error {
	_, err := r.run(ctx, "init", "-input=false", "-no-color")
	return err
}

// Plan computes the execution plan against the given variable file.
func (r *Runner) Plan(ctx context.Context, varFile string) error {
	_, err := r.run(ctx, "plan", "-input=false", "-no-color", "-var-file="+varFile)
	return err
}

// Apply provisions the infrastructure described by the variable file.
func (r *Runner) Apply(ctx context.Context, varFile string) error {
	_, err := r.run(ctx, "apply", "-input=false", "-no-color", "-auto-approve", "-var-file="+varFile)
	return err
}

// Output retrieves the apply-time output map.
func (r *Runner) Output(ctx context.Context) (map[string]OutputValue, error) {
	raw, err := r.run(ctx, "output", "-json", "-no-color")
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]OutputValue)
	if err := json.Unmarshal([]byte(raw), &outputs); err != nil {
		return nil, &ProvisioningToolError{
			Command:  "output",
			ExitCode: 0,
			Output:   raw,
			Err:      fmt.Errorf("output map is not valid JSON: %w", err),
		}
	}
	return outputs, nil
}

// Destroy tears down the infrastructure described by the variable file.
func (r *Runner) Destroy(ctx context.Context, varFile string) error {
	_, err := r.run(ctx, "destroy", "-input=false", "-no-color", "-auto-approve", "-var-file="+varFile)
	return err
}

// run executes one subcommand and captures its combined output.
func (r *Runner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = r.workDir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug().
		Str("subcommand", args[0]).
		Dur("duration", time.Since(start)).
		Msg("Provisioning tool finished")

	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", &ProvisioningToolError{
			Command:  args[0],
			ExitCode: exitCode,
			Output:   output.String(),
			Err:      err,
		}
	}
	return output.String(), nil
}
