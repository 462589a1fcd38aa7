package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDestroyCommand() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "destroy [project-dir]",
		Short: "Tear the digital-twin pipeline down",
		Long: `Destroy every cloud resource belonging to the project's deployment.

Teardown runs in reverse deployment order. Resources that are already
gone count as clean, individual failures are logged without stopping the
remaining cleanup, and a final naming-prefix sweep removes anything the
targeted teardown missed.`,
		Example: `  # Destroy with a confirmation prompt
  twinforge destroy ./plant-floor

  # Destroy without prompting
  twinforge destroy ./plant-floor --auto-approve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath := "."
			if len(args) == 1 {
				projectPath = args[0]
			}

			if !autoApprove {
				fmt.Fprintf(cmd.OutOrStdout(), "Destroy all cloud resources for project %s? Only 'yes' continues: ", projectPath)
				reader := bufio.NewReader(cmd.InOrStdin())
				answer, _ := reader.ReadString('\n')
				if strings.TrimSpace(answer) != "yes" {
					return fmt.Errorf("destroy aborted")
				}
			}

			ctx := cmd.Context()
			o, _, cleanup, err := newOrchestrator(ctx, projectPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := o.Destroy(ctx, projectPath); err != nil {
				return err
			}

			log.Info().Str("project", projectPath).Msg("Pipeline destroyed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the confirmation prompt")

	return cmd
}
