package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/titancorehelp-crypto/titancore-free/pkg/buildsys"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the supported toolchains in the order they're built",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := newLogger(cfg, cmd.ErrOrStderr())
		ctx := buildsys.WithLogger(cmd.Context(), &logger)

		plan, err := buildsys.LoadPlan(ctx, cfg.Toolchains)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		maxNameLen := 0
		for _, tc := range plan.Toolchains {
			if len(tc.Name) > maxNameLen {
				maxNameLen = len(tc.Name)
			}
		}

		fmt.Fprintln(out, "Available toolchains:")
		lineFmt := fmt.Sprintf(" * %%-%ds %%s (marker: %%s, output: %%s)\n", maxNameLen+3)
		for _, tc := range plan.Toolchains {
			fmt.Fprintf(out, lineFmt, tc.Name+":", tc.Desc, tc.Marker, tc.Output)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
