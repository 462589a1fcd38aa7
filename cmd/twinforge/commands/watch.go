package commands

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/policy"
	"github.com/twinforge/twinforge/pkg/registry"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 500 * time.Millisecond

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [project-dir]",
		Short: "Recompile and re-validate the project on every change",
		Long: `Watch the project directory and recompile the configuration to a
fresh variable file whenever a project file changes, then evaluate the
policy set against the result. Policy files named in the settings are
watched too and reload in place. Compilation and policy errors are
logged and watching continues, so the project can be fixed
iteratively.`,
		Example: `  # Watch the project in the current directory
  twinforge watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath := "."
			if len(args) == 1 {
				projectPath = args[0]
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			if err := watcher.Add(projectPath); err != nil {
				return err
			}
			// Workflow definitions live one level down.
			if err := watcher.Add(filepath.Join(projectPath, "workflows")); err != nil {
				log.Debug().Err(err).Msg("No workflows directory to watch")
			}

			ctx := cmd.Context()
			s, err := loadSettings(projectPath)
			if err != nil {
				return err
			}

			engine, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if len(s.PolicyPaths) > 0 {
				if err := engine.LoadPolicies(ctx, s.PolicyPaths); err != nil {
					return err
				}
				// Edited rules reload in place and apply to the next
				// recompile.
				go policy.NewLoader(log.Logger).Watch(ctx, s.PolicyPaths, func(policies []policy.Policy) error {
					return engine.ReplacePolicies(ctx, policies)
				})
			}

			compiler := config.NewCompiler(registry.Default(), log.Logger)
			recompile := func() {
				project, err := compiler.Compile(projectPath)
				if err != nil {
					log.Warn().Err(err).Msg("Compilation failed")
					return
				}
				if _, path, err := compiler.WriteTfvars(project); err != nil {
					log.Warn().Err(err).Msg("Failed to write variable file")
				} else {
					log.Info().Str("path", path).Msg("Variable file refreshed")
				}

				result, err := engine.EvaluateProject(ctx, project, "watch")
				if err != nil {
					log.Warn().Err(err).Msg("Policy evaluation failed")
					return
				}
				for _, v := range result.Violations {
					log.Warn().
						Str("policy", v.Policy).
						Str("severity", string(v.Severity)).
						Msg(v.Message)
				}
				if result.Allowed {
					log.Info().Int("policies", len(result.EvaluatedPolicies)).Msg("Project passes policy checks")
				}
			}

			recompile()
			log.Info().Str("project", projectPath).Msg("Watching for changes")
			var timer *time.Timer
			pending := make(chan struct{}, 1)

			for {
				select {
				case <-ctx.Done():
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
						continue
					}
					// The build cache and the variable file itself change on
					// every recompile; reacting to them would loop forever.
					base := filepath.Base(event.Name)
					if base == config.TfvarsFileName || strings.Contains(event.Name, ".twinforge") {
						continue
					}

					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(watchDebounce, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})

				case <-pending:
					recompile()

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("Watcher error")
				}
			}
		},
	}

	return cmd
}
