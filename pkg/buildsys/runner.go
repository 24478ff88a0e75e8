package buildsys

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/titancorehelp-crypto/titancore-free/pkg"
)

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 && pkg.IsPosixHelper(args[0]) {
		// always use our cross-platform implementation for these operations to make sure
		// they behave consistently
		hc := interp.HandlerCtx(ctx)
		err := pkg.RunPosixHelper(hc.Dir, args, hc.Stderr)
		if err != nil {
			io.WriteString(hc.Stderr, args[0]+": "+err.Error()+"\n")
			return interp.NewExitStatus(1)
		}
		return nil
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// exitCodeOf extracts the status of a failed command. Errors which didn't come from a
// command (i.e. the runner itself failed) are reported as 1.
func exitCodeOf(err error) int {
	if status, ok := interp.IsExitStatus(err); ok && status != 0 {
		return int(status)
	}
	return 1
}

// runCommands executes the commands of a toolchain one statement at a time. The first
// failing statement aborts the toolchain with a BuildFailure.
func runCommands(ctx context.Context, dir string, tc *Toolchain, env map[string]string, stdout, stderr io.Writer, dryRun bool) error {
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(getEnvVars(env)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return &BuildFailure{
			Toolchain: tc.Name,
			ExitCode:  1,
			Err:       eris.Wrap(err, "Failed to initialize runner"),
		}
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, item := range tc.Cmds {
		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return &BuildFailure{Toolchain: tc.Name, ExitCode: 1, Err: err}
		}

		for _, stm := range stmts {
			strBuffer.Reset()
			printer.Print(&strBuffer, stm)
			log(ctx).Info().
				Str("task", tc.Name).
				Bool("command", true).
				Msg(strBuffer.String())

			if dryRun {
				continue
			}

			err = runner.Run(ctx, stm)
			if err != nil {
				return &BuildFailure{
					Toolchain: tc.Name,
					ExitCode:  exitCodeOf(err),
					Err:       eris.Wrapf(err, "command %q failed", strBuffer.String()),
				}
			}

			if runner.Exited() {
				return nil
			}
		}

		if err = ctx.Err(); err != nil {
			return &BuildFailure{Toolchain: tc.Name, ExitCode: 1, Err: err}
		}
	}

	return nil
}
