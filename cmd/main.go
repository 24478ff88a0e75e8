package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/titancorehelp-crypto/titancore-free/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "tool",
	Short: "Build tools for TITANCORE",
	Long: `This command bundles the tools used to build TITANCORE. "tool build" resets the
workspace and builds the Rust core, the Python package and the C/C++ sources, depending on
which of Cargo.toml, pyproject.toml and Makefile are present.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitCodeError tells Execute which exit code to use. The error itself has already been
// reported.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("dir", "C", ".", "working directory containing the marker files")
	flags.Bool("no-color", false, "disable colored output")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Bool("log-json", false, "output JSON log events instead of pretty console messages")
	flags.String("toolchains", "", "load the toolchains from this Starlark script instead of the built-in table")
}

// loadConfig reads the config from the environment and applies the flags the user passed
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Dir, _ = flags.GetString("dir")
	}
	if flags.Changed("no-color") {
		cfg.NoColor, _ = flags.GetBool("no-color")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("toolchains") {
		cfg.Toolchains, _ = flags.GetString("toolchains")
	}
	if flags.Lookup("dry") != nil && flags.Changed("dry") {
		cfg.Dry, _ = flags.GetBool("dry")
	}
	if flags.Lookup("report") != nil && flags.Changed("report") {
		cfg.Report, _ = flags.GetString("report")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(NewConsoleWriter(out, cfg.NoColor))
	}

	return logger.Level(cfg.LogLevel())
}

func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}

	var exitErr exitCodeError
	if eris.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
