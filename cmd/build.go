package cmd

import (
	"github.com/spf13/cobra"

	"github.com/titancorehelp-crypto/titancore-free/pkg"
	"github.com/titancorehelp-crypto/titancore-free/pkg/buildsys"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Reset the workspace and build every toolchain whose marker file is present",
	Long: `Removes the known build outputs, recreates the staging directory and then runs the
native, python and make toolchains in that order. A toolchain only runs if its marker file
exists. The first failing command aborts the build and its exit code becomes the exit code
of this command.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := newLogger(cfg, cmd.ErrOrStderr())
		ctx := buildsys.WithLogger(cmd.Context(), &logger)

		plan, err := buildsys.LoadPlan(ctx, cfg.Toolchains)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load toolchains")
			return exitCodeError{code: 1}
		}

		orch, err := buildsys.New(cfg.Dir, plan)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to prepare build")
			return exitCodeError{code: 1}
		}
		orch.DryRun = cfg.Dry
		orch.Printer = pkg.NewPrinter(cmd.OutOrStdout(), cfg.NoColor)
		orch.Stdout = cmd.OutOrStdout()
		orch.Stderr = cmd.ErrOrStderr()

		report, runErr := orch.Run(ctx)
		if cfg.Report != "" {
			err = report.WriteFile(cfg.Report)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to write report")
			}
		}

		if runErr != nil {
			logger.Error().Err(runErr).Str("stage", orch.State().String()).Msg("Build failed")
			return exitCodeError{code: buildsys.ExitCode(runErr)}
		}

		return nil
	},
}

func init() {
	buildCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	buildCmd.Flags().String("report", "", "write a YAML report of the run to this file")

	rootCmd.AddCommand(buildCmd)
}
