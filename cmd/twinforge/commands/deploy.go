package commands

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/orchestrator"
)

func newDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy [project-dir]",
		Short: "Deploy the digital-twin pipeline",
		Long: `Deploy the pipeline described by a project directory.

This command:
  - Compiles and validates the project configuration
  - Evaluates the policy set against the compiled project
  - Bundles every required function archive into the build cache
  - Writes the variable file and runs the provisioning tool
  - Pushes function code layer by layer behind pre-flight gates
  - Registers devices, uploads the twin hierarchy, wires the dashboard`,
		Example: `  # Deploy the project in the current directory
  twinforge deploy

  # Deploy a specific project
  twinforge deploy ./plant-floor`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath := "."
			if len(args) == 1 {
				projectPath = args[0]
			}

			ctx := cmd.Context()
			o, _, cleanup, err := newOrchestrator(ctx, projectPath)
			if err != nil {
				return err
			}
			defer cleanup()

			dc, err := o.Deploy(ctx, projectPath)
			if err != nil {
				var pe *orchestrator.PolicyRejectionError
				if errors.As(err, &pe) {
					for _, v := range pe.Violations {
						log.Error().
							Str("policy", v.Policy).
							Str("severity", string(v.Severity)).
							Msg(v.Message)
					}
				}
				return err
			}

			log.Info().
				Str("run_id", dc.RunID).
				Str("deployment", dc.Project.Settings.DigitalTwinName).
				Int("archives", len(dc.Archives)).
				Int("outputs", len(dc.Outputs)).
				Msg("Pipeline deployed")
			return nil
		},
	}

	return cmd
}
