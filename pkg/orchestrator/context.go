package orchestrator

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/twinforge/twinforge/pkg/builder"
	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/registry"
	"github.com/twinforge/twinforge/pkg/terraform"
)

// State is the deployment run's position in the lifecycle.
type State string

const (
	StateInit                 State = "init"
	StateTfvarsGenerated      State = "tfvars_generated"
	StateToolApplied          State = "tool_applied"
	StateCodeDeployed         State = "code_deployed"
	StatePostProvisioningDone State = "post_provisioning_done"
)

// Finalizer is one registered cleanup step.
type Finalizer struct {
	Name string
	Run  func(ctx context.Context) error
}

// DeploymentContext carries everything one run accumulates. It is
// exclusively owned by that run; nothing here is shared across
// concurrent deployments.
type DeploymentContext struct {
	// RunID is the unique identifier of this run.
	RunID string

	// Project is the compiled project configuration.
	Project *config.Project

	// State is the run's lifecycle position.
	State State

	// Glue is the boundary-resolved glue function set.
	Glue map[string]registry.FunctionDefinition

	// Archives maps each built archive to its build-cache path.
	Archives map[builder.ArchiveKey]string

	// VarFile is the written provisioning-tool variable file.
	VarFile string

	// Outputs holds the tool's apply-time output values.
	Outputs map[string]terraform.OutputValue

	logger     zerolog.Logger
	finalizers []Finalizer
	layerRows  map[registry.Layer]string
}

func newDeploymentContext(runID string, project *config.Project, logger zerolog.Logger) *DeploymentContext {
	return &DeploymentContext{
		RunID:     runID,
		Project:   project,
		State:     StateInit,
		logger:    logger,
		layerRows: make(map[registry.Layer]string),
	}
}

// Defer registers a cleanup step. Finalizers run in LIFO order when the
// run ends, whether it succeeded, failed, or was cancelled.
func (dc *DeploymentContext) Defer(name string, fn func(ctx context.Context) error) {
	dc.finalizers = append(dc.finalizers, Finalizer{Name: name, Run: fn})
}

// runFinalizers executes the registered finalizers newest-first. Errors
// are logged, never propagated; cancellation of the run context does not
// skip them.
func (dc *DeploymentContext) runFinalizers(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(dc.finalizers) - 1; i >= 0; i-- {
		f := dc.finalizers[i]
		if err := f.Run(ctx); err != nil {
			dc.logger.Warn().Err(err).Str("finalizer", f.Name).Msg("Finalizer failed")
		}
	}
	dc.finalizers = nil
}

// advance moves the run to the next lifecycle state.
func (dc *DeploymentContext) advance(s State) {
	dc.logger.Debug().Str("from", string(dc.State)).Str("to", string(s)).Msg("Run state advanced")
	dc.State = s
}
