package buildsys

import (
	"os"
	"os/exec"
	"path/filepath"

	"mvdan.cc/sh/v3/syntax"

	"github.com/titancorehelp-crypto/titancore-free/pkg"
)

var lookPath = exec.LookPath

// ProgramProbe is the availability of one program a toolchain calls
type ProgramProbe struct {
	Name string
	Path string
	// Found is true if the program resolves on PATH or is provided by the build itself
	// (posix helpers, programs inside an isolated environment).
	Found    bool
	Provided bool
}

// ProbeResult describes whether a toolchain would run in a directory
type ProbeResult struct {
	Toolchain     string
	Marker        string
	MarkerPresent bool
	Programs      []ProgramProbe
}

// Ready reports whether the toolchain would run and all of its programs are available.
func (r ProbeResult) Ready() bool {
	if !r.MarkerPresent {
		return false
	}

	for _, prog := range r.Programs {
		if !prog.Found {
			return false
		}
	}
	return true
}

// Probe checks which toolchains would run in dir and whether the programs they call are
// installed. It never executes anything.
func Probe(dir string, plan *Plan) []ProbeResult {
	parser := syntax.NewParser()
	results := make([]ProbeResult, len(plan.Toolchains))

	for idx, tc := range plan.Toolchains {
		res := ProbeResult{
			Toolchain: tc.Name,
			Marker:    tc.Marker,
			Programs:  []ProgramProbe{},
		}

		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(tc.Marker)))
		res.MarkerPresent = err == nil && info.Mode().IsRegular()

		seen := map[string]bool{}
		for cmdIdx, cmd := range tc.Cmds {
			name := cmd.Program(parser)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true

			prog := ProgramProbe{Name: name}
			switch {
			case pkg.IsPosixHelper(name):
				prog.Found = true
				prog.Provided = true
			case tc.Isolated && cmdIdx > 0:
				// created by the first command of the toolchain
				prog.Found = true
				prog.Provided = true
			default:
				path, err := lookPath(name)
				prog.Found = err == nil
				prog.Path = path
			}

			res.Programs = append(res.Programs, prog)
		}

		results[idx] = res
	}

	return results
}
