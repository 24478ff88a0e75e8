package buildsys

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titancorehelp-crypto/titancore-free/pkg"
)

var fakeToolchains = []struct {
	name     string
	marker   string
	output   string
	isolated bool
}{
	{"native", "Cargo.toml", "target/release", false},
	{"python", "pyproject.toml", "dist", true},
	{"make", "Makefile", "build", false},
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	logger := zerolog.Nop()
	return WithLogger(context.Background(), &logger)
}

// fakeScript declares the default toolchains with commands that only use shell builtins and
// the built-in posix helpers. Each toolchain records its invocation in calls.log, fails with
// 9 if it still sees the stale sentinel and otherwise exits with the code from exits or
// creates its output directory.
func fakeScript(exits map[string]int) []byte {
	b := strings.Builder{}
	b.WriteString("def configure():\n")
	b.WriteString("    reset([\"target\", \"dist\", \"build\", \"lib\", \"*.egg-info\"])\n")
	b.WriteString("    staging(\"lib\")\n")

	for _, tc := range fakeToolchains {
		isolated := "False"
		if tc.isolated {
			isolated = "True"
		}

		fmt.Fprintf(&b, "    toolchain(name = %q, marker = %q, output = %q, isolated_env = %s, cmds = [\n",
			tc.name, tc.marker, tc.output, isolated)
		b.WriteString("        'if [ -e target/stale.txt ]; then exit 9; fi',\n")
		fmt.Fprintf(&b, "        'echo %s >> calls.log',\n", tc.name)
		if tc.isolated {
			b.WriteString("        'mkdir -p \"$VENV\"',\n")
			b.WriteString("        'echo \"$VIRTUAL_ENV\" > venv.txt',\n")
		}

		if code := exits[tc.name]; code != 0 {
			fmt.Fprintf(&b, "        'exit %d',\n", code)
		}
		fmt.Fprintf(&b, "        ('mkdir', '-p', %q),\n", tc.output)
		b.WriteString("    ])\n")
	}

	return []byte(b.String())
}

func newTestOrchestrator(t *testing.T, dir string, exits map[string]int) (*Orchestrator, *bytes.Buffer) {
	t.Helper()

	plan, err := Parse(testContext(t), "fake.star", fakeScript(exits))
	require.NoError(t, err)

	orch, err := New(dir, plan)
	require.NoError(t, err)

	out := new(bytes.Buffer)
	orch.Printer = pkg.NewPrinter(out, true)
	orch.Stdout = out
	orch.Stderr = out
	return orch, out
}

func touch(t *testing.T, path string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func readCalls(t *testing.T, dir string) []string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	if eris.Is(err, os.ErrNotExist) {
		return []string{}
	}
	require.NoError(t, err)

	return strings.Fields(string(data))
}

func presentLines(out string) []string {
	result := []string{}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasSuffix(line, " present") {
			result = append(result, strings.TrimSpace(line))
		}
	}
	return result
}

func TestRunInvokesExactlyThePresentToolchains(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		mask := mask
		t.Run(fmt.Sprintf("markers=%03b", mask), func(t *testing.T) {
			dir := t.TempDir()
			expected := []string{}
			for idx, tc := range fakeToolchains {
				if mask&(1<<idx) != 0 {
					touch(t, filepath.Join(dir, tc.marker))
					expected = append(expected, tc.name)
				}
			}

			orch, out := newTestOrchestrator(t, dir, nil)
			report, err := orch.Run(testContext(t))
			require.NoError(t, err)

			assert.Equal(t, expected, readCalls(t, dir))
			assert.Equal(t, expected, report.Invoked())
			assert.Equal(t, State{Stage: StageDone}, orch.State())
			assert.Equal(t, "done", report.Stage)
			assert.Contains(t, out.String(), "==> Summary")
			assert.Len(t, presentLines(out.String()), len(expected))

			for idx, tc := range fakeToolchains {
				if mask&(1<<idx) != 0 {
					assert.Equal(t, StatusBuilt, report.Toolchains[idx].Status, tc.name)
				} else {
					assert.Equal(t, StatusSkipped, report.Toolchains[idx].Status, tc.name)
				}
			}
		})
	}
}

func TestRunWithoutMarkers(t *testing.T) {
	dir := t.TempDir()
	orch, out := newTestOrchestrator(t, dir, nil)

	report, err := orch.Run(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 0, ExitCode(err))

	assert.Empty(t, readCalls(t, dir))
	assert.Empty(t, report.Invoked())
	assert.Empty(t, report.Outputs)
	assert.Contains(t, out.String(), "==> Summary")
	assert.Empty(t, presentLines(out.String()))

	info, err := os.Stat(filepath.Join(dir, "lib"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRunNativeOnly(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Cargo.toml"))
	orch, out := newTestOrchestrator(t, dir, nil)

	report, err := orch.Run(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"-> target/release present"}, presentLines(out.String()))
	assert.Equal(t, []string{"target/release"}, report.Outputs)
}

func TestRunFailsFast(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Cargo.toml"))
	touch(t, filepath.Join(dir, "Makefile"))
	orch, out := newTestOrchestrator(t, dir, map[string]int{"make": 2})

	report, err := orch.Run(testContext(t))
	require.Error(t, err)

	var failure *BuildFailure
	require.True(t, eris.As(err, &failure))
	assert.Equal(t, "make", failure.Toolchain)
	assert.Equal(t, 2, failure.ExitCode)
	assert.Equal(t, 2, ExitCode(err))

	assert.Equal(t, []string{"native", "make"}, readCalls(t, dir))
	assert.NotContains(t, out.String(), "Summary")
	assert.Empty(t, presentLines(out.String()))

	assert.Equal(t, State{Stage: StageFailed, Toolchain: "make"}, orch.State())
	assert.Equal(t, "failed(make)", report.Stage)
	assert.Equal(t, StatusBuilt, report.Toolchains[0].Status)
	assert.Equal(t, StatusSkipped, report.Toolchains[1].Status)
	assert.Equal(t, StatusFailed, report.Toolchains[2].Status)
	assert.Equal(t, 2, report.Toolchains[2].ExitCode)
	assert.NotEmpty(t, report.Error)
}

func TestRunStopsBeforeLaterToolchains(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range fakeToolchains {
		touch(t, filepath.Join(dir, tc.marker))
	}
	orch, _ := newTestOrchestrator(t, dir, map[string]int{"native": 3})

	report, err := orch.Run(testContext(t))
	assert.Equal(t, 3, ExitCode(err))
	assert.Equal(t, []string{"native"}, readCalls(t, dir))
	assert.Equal(t, StatusNotReached, report.Toolchains[1].Status)
	assert.Equal(t, StatusNotReached, report.Toolchains[2].Status)
}

func TestResetRemovesStaleOutputsFirst(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Cargo.toml"))
	touch(t, filepath.Join(dir, "target", "stale.txt"))
	touch(t, filepath.Join(dir, "dist", "old.whl"))
	touch(t, filepath.Join(dir, "titancore.egg-info", "PKG-INFO"))
	touch(t, filepath.Join(dir, "src", "lib.rs"))
	orch, _ := newTestOrchestrator(t, dir, nil)

	_, err := orch.Run(testContext(t))
	// the native toolchain exits with 9 if the sentinel survived the reset
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "target", "stale.txt"))
	assert.NoDirExists(t, filepath.Join(dir, "dist"))
	assert.NoDirExists(t, filepath.Join(dir, "titancore.egg-info"))
	assert.FileExists(t, filepath.Join(dir, "src", "lib.rs"))
	assert.DirExists(t, filepath.Join(dir, "target", "release"))
}

func TestResetPatternsInBracketedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj[1]")
	touch(t, filepath.Join(dir, "titancore.egg-info", "PKG-INFO"))
	touch(t, filepath.Join(dir, "other.egg-info", "PKG-INFO"))
	touch(t, filepath.Join(dir, "setup.cfg"))
	orch, _ := newTestOrchestrator(t, dir, nil)

	_, err := orch.Run(testContext(t))
	require.NoError(t, err)

	assert.NoDirExists(t, filepath.Join(dir, "titancore.egg-info"))
	assert.NoDirExists(t, filepath.Join(dir, "other.egg-info"))
	assert.FileExists(t, filepath.Join(dir, "setup.cfg"))
	assert.DirExists(t, filepath.Join(dir, "lib"))
}

func TestIsolatedEnvironmentIsRemoved(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "pyproject.toml"))
	orch, _ := newTestOrchestrator(t, dir, nil)

	_, err := orch.Run(testContext(t))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "venv.txt"))
	require.NoError(t, err)
	venv := strings.TrimSpace(string(data))
	assert.Equal(t, filepath.Join(dir, ".venv-"+orch.RunID), venv)
	assert.NoDirExists(t, venv)
	assert.DirExists(t, filepath.Join(dir, "dist"))
}

func TestMissingProgramIsABuildFailure(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Makefile"))
	script := []byte(`
def configure():
    staging("lib")
    toolchain(name = "make", marker = "Makefile", output = "build", cmds = [
        ("titancore-definitely-missing-program", "all"),
    ])
`)
	plan, err := Parse(testContext(t), "missing.star", script)
	require.NoError(t, err)

	orch, err := New(dir, plan)
	require.NoError(t, err)
	out := new(bytes.Buffer)
	orch.Printer = pkg.NewPrinter(out, true)
	orch.Stdout = out
	orch.Stderr = out

	_, err = orch.Run(testContext(t))
	var failure *BuildFailure
	require.True(t, eris.As(err, &failure))
	assert.Equal(t, "make", failure.Toolchain)
	assert.Equal(t, 127, failure.ExitCode)
}

func TestSetupErrorWhenStagingIsBlocked(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "stage"))
	script := []byte(`
def configure():
    staging("stage/lib")
    toolchain(name = "native", marker = "Cargo.toml", output = "target/release", cmds = ["echo native >> calls.log"])
`)
	plan, err := Parse(testContext(t), "setup.star", script)
	require.NoError(t, err)

	orch, err := New(dir, plan)
	require.NoError(t, err)
	orch.Printer = pkg.NewPrinter(new(bytes.Buffer), true)

	report, err := orch.Run(testContext(t))
	var setupErr *SetupError
	require.True(t, eris.As(err, &setupErr))
	assert.Equal(t, "stage/lib", setupErr.Path)
	assert.Equal(t, 1, ExitCode(err))
	assert.Equal(t, State{Stage: StageFailed}, orch.State())
	assert.Equal(t, StatusNotReached, report.Toolchains[0].Status)
}

func TestCleanupErrorWhenRemovalIsDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs POSIX permissions enforced for the current user")
	}

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "build", "locked", "obj.o"))
	require.NoError(t, os.Chmod(filepath.Join(dir, "build", "locked"), 0500))
	defer os.Chmod(filepath.Join(dir, "build", "locked"), 0700)

	orch, _ := newTestOrchestrator(t, dir, nil)
	_, err := orch.Run(testContext(t))

	var cleanupErr *CleanupError
	require.True(t, eris.As(err, &cleanupErr))
	assert.Equal(t, "build", cleanupErr.Path)
	assert.Empty(t, readCalls(t, dir))
}

func TestDryRunDoesNotTouchTheWorkspace(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Cargo.toml"))
	touch(t, filepath.Join(dir, "target", "stale.txt"))
	orch, out := newTestOrchestrator(t, dir, nil)
	orch.DryRun = true

	report, err := orch.Run(testContext(t))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "target", "stale.txt"))
	assert.NoDirExists(t, filepath.Join(dir, "lib"))
	assert.Empty(t, readCalls(t, dir))
	assert.True(t, report.DryRun)
	assert.Equal(t, StatusBuilt, report.Toolchains[0].Status)
	assert.Contains(t, out.String(), "remove target")
}

func TestRunOnlyOnce(t *testing.T) {
	orch, _ := newTestOrchestrator(t, t.TempDir(), nil)

	_, err := orch.Run(testContext(t))
	require.NoError(t, err)

	_, err = orch.Run(testContext(t))
	assert.Error(t, err)
}

func TestReportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Cargo.toml"))
	orch, _ := newTestOrchestrator(t, dir, nil)

	report, err := orch.Run(testContext(t))
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "report.yml")
	require.NoError(t, report.WriteFile(file))

	loaded, err := ReadReport(file)
	require.NoError(t, err)
	assert.Equal(t, report, loaded)
	assert.Equal(t, orch.RunID, loaded.RunID)
}

func TestNewRejectsFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "file"))

	plan, err := DefaultPlan(testContext(t))
	require.NoError(t, err)

	_, err = New(filepath.Join(dir, "file"), plan)
	assert.Error(t, err)

	_, err = New(filepath.Join(dir, "missing"), plan)
	assert.Error(t, err)
}
