package buildsys

import (
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CleanupError is returned if a known build output couldn't be removed during the reset.
type CleanupError struct {
	Path string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to clean up %s: %v", e.Path, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

func (e *CleanupError) Format(s fmt.State, verb rune) {
	formatWithCause(s, verb, e, e.Err)
}

// SetupError is returned if the staging directory couldn't be created.
type SetupError struct {
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("failed to set up %s: %v", e.Path, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func (e *SetupError) Format(s fmt.State, verb rune) {
	formatWithCause(s, verb, e, e.Err)
}

// BuildFailure is returned if a toolchain command couldn't be started or exited with a
// non-zero status.
type BuildFailure struct {
	Toolchain string
	ExitCode  int
	Err       error
}

func (e *BuildFailure) Error() string {
	msg := fmt.Sprintf("toolchain %s failed with exit code %d", e.Toolchain, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildFailure) Unwrap() error {
	return e.Err
}

func (e *BuildFailure) Format(s fmt.State, verb rune) {
	formatWithCause(s, verb, e, e.Err)
}

// formatWithCause prints the cause's eris trace for %+v and the plain message otherwise
func formatWithCause(s fmt.State, verb rune, err error, cause error) {
	if verb == 'v' && s.Flag('+') && cause != nil {
		msg := err.Error()
		trace := eris.ToString(cause, true)
		io.WriteString(s, strings.TrimSuffix(msg, cause.Error())+strings.TrimSpace(trace))
		return
	}

	io.WriteString(s, err.Error())
}

// ExitCode maps the error of a build to a process exit code. Build failures keep the exit
// code of the failed command, everything else results in 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var failure *BuildFailure
	if eris.As(err, &failure) && failure.ExitCode > 0 {
		return failure.ExitCode
	}

	return 1
}
