package cmd

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/titancorehelp-crypto/titancore-free/pkg"
)

var mvCmd = &cobra.Command{
	Use:   "mv",
	Short: "Cross-platform implementation of the POSIX mv command",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return eris.New("Not enough parameters")
		}

		return pkg.Move(args[:len(args)-1], args[len(args)-1])
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm",
	Short: "A cross-platform implementation of the POSIX rm command",
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		return pkg.Remove(args, recursive, force)
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir",
	Short: "A cross-platform implementation of the POSIX mkdir command",
	RunE: func(cmd *cobra.Command, args []string) error {
		makeParents, err := cmd.Flags().GetBool("parents")
		if err != nil {
			return err
		}

		return pkg.MakeDirs(args, makeParents)
	},
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "recursively delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")

	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
}
