package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/boundary"
	"github.com/twinforge/twinforge/pkg/builder"
	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/registry"
)

func newBundleCommand() *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "bundle [project-dir]",
		Short: "Build every function archive into the build cache",
		Long: `Compile the project and bundle every function archive the provider
map calls for, including cross-cloud glue functions, without deploying
anything. Archives land in the project's build cache and are reused by a
later deploy.`,
		Example: `  # Bundle the project in the current directory
  twinforge bundle

  # Bundle with more workers
  twinforge bundle ./plant-floor --parallel 8`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath := "."
			if len(args) == 1 {
				projectPath = args[0]
			}

			reg := registry.Default()
			logger := log.Logger

			project, err := config.NewCompiler(reg, logger).Compile(projectPath)
			if err != nil {
				return err
			}

			glue, err := boundary.NewResolver(reg, logger).RequiredGlueFunctions(project.ProviderMap)
			if err != nil {
				return err
			}

			b := builder.New(reg, logger).WithMaxParallel(parallel)
			archives, err := b.BuildAll(cmd.Context(), project, glue)
			if err != nil {
				return err
			}

			for key, path := range archives {
				log.Info().Str("archive", key.String()).Str("path", path).Msg("Archive staged")
			}
			log.Info().Int("archives", len(archives)).Msg("Build cache populated")
			return nil
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", builder.DefaultMaxParallel, "max parallel bundling workers")

	return cmd
}
