package cmd

import (
	"fmt"

	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/titancorehelp-crypto/titancore-free/pkg/buildsys"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show which toolchains would run and whether their programs are installed",
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

		color := colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: cfg.NoColor,
			Reset:   true,
		}
		out := cmd.OutOrStdout()

		for _, res := range buildsys.Probe(cfg.Dir, plan) {
			marker := "[yellow]absent"
			if res.MarkerPresent {
				marker = "[green]present"
			}
			fmt.Fprintf(out, color.Color("[bold]%s[reset] (%s "+marker+"[reset])\n"), res.Toolchain, res.Marker)

			for _, prog := range res.Programs {
				stateColor, state := "[red]", "not found"
				switch {
				case prog.Provided:
					stateColor, state = "[blue]", "provided by the build"
				case prog.Found:
					stateColor, state = "[green]", prog.Path
				}
				fmt.Fprintf(out, color.Color("  %-10s "+stateColor+"%s[reset]\n"), prog.Name, state)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
