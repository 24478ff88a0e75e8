package buildsys

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"

	"github.com/titancorehelp-crypto/titancore-free/pkg"
)

// Orchestrator runs a Plan against a single working directory
type Orchestrator struct {
	// Dir is the absolute working directory. Every path in the plan is relative to it.
	Dir  string
	Plan *Plan
	// Printer receives the status lines
	Printer *pkg.Printer
	// Stdout and Stderr receive the output of the toolchain commands
	Stdout io.Writer
	Stderr io.Writer
	DryRun bool
	RunID  string

	state   State
	started bool
	report  *Report
}

// New prepares an orchestrator for the given working directory.
func New(dir string, plan *Plan) (*Orchestrator, error) {
	if plan == nil {
		return nil, eris.New("missing plan")
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve working directory")
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to check working directory %s", dir)
	}

	if !info.IsDir() {
		return nil, eris.Errorf("%s is not a directory", dir)
	}

	return &Orchestrator{
		Dir:     dir,
		Plan:    plan,
		Printer: pkg.NewPrinter(os.Stdout, false),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		RunID:   nanoid.New(),
	}, nil
}

// State returns the current position in the state machine
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) transition(ctx context.Context, next State) {
	log(ctx).Debug().
		Str("from", o.state.String()).
		Str("to", next.String()).
		Msg("state change")

	o.state = next
	if o.report != nil {
		o.report.Stage = next.String()
	}
}

func (o *Orchestrator) fail(ctx context.Context, err error) error {
	o.transition(ctx, State{Stage: StageFailed, Toolchain: o.state.Toolchain})
	o.report.Error = err.Error()
	return err
}

// Run executes the plan: reset, every toolchain whose marker exists and finally the
// summary. It stops at the first error. The returned report is never nil.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.report = newReport(o.RunID, o.Dir, o.DryRun, o.Plan)
	if o.started {
		o.report.Error = "orchestrator can only run once"
		return o.report, eris.New(o.report.Error)
	}
	o.started = true

	log(ctx).Debug().
		Str("run", o.RunID).
		Str("path", o.Dir).
		Bool("dry", o.DryRun).
		Msg("Starting build")

	o.transition(ctx, State{Stage: StageResetting})
	err := o.resetWorkspace(ctx)
	if err != nil {
		return o.report, o.fail(ctx, err)
	}

	for _, tc := range o.Plan.Toolchains {
		o.transition(ctx, State{Stage: StageToolchain, Toolchain: tc.Name})
		err = o.buildToolchain(ctx, tc)
		if err != nil {
			return o.report, o.fail(ctx, err)
		}
	}

	o.transition(ctx, State{Stage: StageSummarizing})
	err = o.summarize(ctx)
	if err != nil {
		return o.report, o.fail(ctx, err)
	}

	o.transition(ctx, State{Stage: StageDone})
	return o.report, nil
}

// resolveResetPaths expands the reset patterns inside the working directory. Patterns without
// matches are dropped.
func (o *Orchestrator) resolveResetPaths() ([]string, error) {
	result := []string{}
	for _, item := range o.Plan.Reset {
		full := filepath.Join(o.Dir, filepath.FromSlash(item))
		if !strings.ContainsAny(item, "*?[") {
			result = append(result, full)
			continue
		}

		// matched relative to Dir so metacharacters in Dir itself stay literal
		matches, err := fs.Glob(os.DirFS(o.Dir), item)
		if err != nil {
			return nil, &CleanupError{Path: item, Err: eris.Wrapf(err, "Failed to resolve pattern %s", item)}
		}
		for _, match := range matches {
			result = append(result, filepath.Join(o.Dir, filepath.FromSlash(match)))
		}
	}
	return result, nil
}

func (o *Orchestrator) relPath(path string) string {
	rel, err := filepath.Rel(o.Dir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (o *Orchestrator) resetWorkspace(ctx context.Context) error {
	o.Printer.Task("Resetting workspace")

	paths, err := o.resolveResetPaths()
	if err != nil {
		return err
	}

	for _, item := range paths {
		_, err := os.Lstat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				continue
			}
			return &CleanupError{Path: o.relPath(item), Err: eris.Wrapf(err, "Could not stat %s", item)}
		}

		o.Printer.Subtask("remove " + o.relPath(item))
		log(ctx).Debug().Str("path", item).Bool("dry", o.DryRun).Msg("Removing build output")
		if o.DryRun {
			continue
		}

		err = pkg.Remove([]string{item}, true, true)
		if err != nil {
			return &CleanupError{Path: o.relPath(item), Err: err}
		}
	}

	staging := filepath.Join(o.Dir, filepath.FromSlash(o.Plan.Staging))
	o.Printer.Subtask("create " + o.Plan.Staging)
	if o.DryRun {
		return nil
	}

	err = pkg.MakeDirs([]string{staging}, true)
	if err != nil {
		return &SetupError{Path: o.Plan.Staging, Err: err}
	}

	return nil
}

// markerPresent checks for the toolchain's marker file. Anything that isn't a regular file
// (or a link to one) doesn't count.
func (o *Orchestrator) markerPresent(ctx context.Context, tc *Toolchain) bool {
	info, err := os.Stat(filepath.Join(o.Dir, filepath.FromSlash(tc.Marker)))
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			log(ctx).Warn().Err(err).Str("task", tc.Name).Msgf("Failed to check %s, skipping", tc.Marker)
		}
		return false
	}

	return info.Mode().IsRegular()
}

func (o *Orchestrator) buildToolchain(ctx context.Context, tc *Toolchain) error {
	status := o.report.toolchain(tc.Name)

	if !o.markerPresent(ctx, tc) {
		log(ctx).Debug().Str("task", tc.Name).Msgf("%s not found, skipping", tc.Marker)
		status.Status = StatusSkipped
		return nil
	}

	o.Printer.Task(fmt.Sprintf("Building %s (found %s)", tc.Name, tc.Marker))

	env := make(map[string]string, len(tc.Env)+3)
	for k, v := range tc.Env {
		env[k] = v
	}

	venv := ""
	if tc.Isolated {
		venv = filepath.Join(o.Dir, ".venv-"+o.RunID)
		for k, v := range isolatedEnv(venv) {
			env[k] = v
		}
	}

	err := runCommands(ctx, o.Dir, tc, env, o.Stdout, o.Stderr, o.DryRun)
	if err != nil {
		status.Status = StatusFailed
		status.ExitCode = ExitCode(err)
		o.Printer.Error(err.Error())
		return err
	}

	if venv != "" && !o.DryRun {
		o.Printer.Subtask("remove isolated environment")
		err = pkg.Remove([]string{venv}, true, true)
		if err != nil {
			status.Status = StatusFailed
			status.ExitCode = 1
			return &BuildFailure{Toolchain: tc.Name, ExitCode: 1, Err: err}
		}
	}

	status.Status = StatusBuilt
	return nil
}

func (o *Orchestrator) summarize(ctx context.Context) error {
	o.Printer.Task("Summary")

	for _, output := range o.Plan.Outputs() {
		info, err := os.Stat(filepath.Join(o.Dir, filepath.FromSlash(output)))
		if err != nil {
			if !eris.Is(err, os.ErrNotExist) {
				log(ctx).Warn().Err(err).Msgf("Failed to check %s", output)
			}
			continue
		}

		if info.IsDir() {
			o.Printer.Subtask(output + " present")
			o.report.Outputs = append(o.report.Outputs, output)
		}
	}

	return nil
}
