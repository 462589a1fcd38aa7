package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/boundary"
	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/policy"
	"github.com/twinforge/twinforge/pkg/registry"
)

func newValidateCommand() *cobra.Command {
	var writeTfvars bool

	cmd := &cobra.Command{
		Use:   "validate [project-dir]",
		Short: "Validate a project without touching any cloud",
		Long: `Compile the project configuration, resolve the required glue
functions, and evaluate the policy set. Nothing is deployed and no
provider API is called.`,
		Example: `  # Validate the project in the current directory
  twinforge validate

  # Validate and write the variable file
  twinforge validate ./plant-floor --write-tfvars`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath := "."
			if len(args) == 1 {
				projectPath = args[0]
			}

			ctx := cmd.Context()
			s, err := loadSettings(projectPath)
			if err != nil {
				return err
			}

			reg := registry.Default()
			logger := log.Logger
			compiler := config.NewCompiler(reg, logger)

			project, err := compiler.Compile(projectPath)
			if err != nil {
				return err
			}
			log.Info().
				Str("deployment", project.Settings.DigitalTwinName).
				Int("devices", len(project.Devices)).
				Int("events", len(project.Events)).
				Msg("Project compiled")

			glue, err := boundary.NewResolver(reg, logger).RequiredGlueFunctions(project.ProviderMap)
			if err != nil {
				return err
			}
			for _, name := range boundary.Names(glue) {
				log.Info().Str("function", name).Msg("Boundary crossing requires glue")
			}

			engine, err := policy.NewEngine(logger)
			if err != nil {
				return err
			}
			if len(s.PolicyPaths) > 0 {
				if err := engine.LoadPolicies(ctx, s.PolicyPaths); err != nil {
					return err
				}
			}

			result, err := engine.EvaluateProject(ctx, project, "validate")
			if err != nil {
				return err
			}
			for _, v := range result.Violations {
				log.Warn().
					Str("policy", v.Policy).
					Str("severity", string(v.Severity)).
					Msg(v.Message)
			}
			for _, w := range result.Warnings {
				log.Warn().Msg(w)
			}
			if !result.Allowed {
				return fmt.Errorf("project rejected by %d policy violation(s)", len(result.Violations))
			}

			if writeTfvars {
				_, path, err := compiler.WriteTfvars(project)
				if err != nil {
					return err
				}
				log.Info().Str("path", path).Msg("Variable file written")
			}

			log.Info().Int("policies", len(result.EvaluatedPolicies)).Msg("Project is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&writeTfvars, "write-tfvars", false, "write the provisioning-tool variable file")

	return cmd
}
