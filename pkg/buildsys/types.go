package buildsys

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

// TaskCmdScript is a single shell command of a toolchain
type TaskCmdScript struct {
	TaskName string
	Content  string
	Index    int
}

func (s TaskCmdScript) ToShellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	reader := strings.NewReader(s.Content)
	result, err := parser.Parse(reader, fmt.Sprintf("%s:%d", s.TaskName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

// Program returns the name of the executable the command starts with or an empty string
// if the command doesn't start with a plain call.
func (s TaskCmdScript) Program(parser *syntax.Parser) string {
	stmts, err := s.ToShellStmts(parser)
	if err != nil || len(stmts) == 0 {
		return ""
	}

	call, ok := stmts[0].Cmd.(*syntax.CallExpr)
	if !ok || len(call.Args) == 0 {
		return ""
	}

	return call.Args[0].Lit()
}

// Toolchain contains the processed values passed to toolchain() by the toolchain script
type Toolchain struct {
	Env    map[string]string
	Name   string
	Desc   string
	Marker string
	Output string
	Cmds   []TaskCmdScript
	// Isolated toolchains run inside a virtual environment which only lives for the
	// duration of the build.
	Isolated bool
}

// Plan is the ordered description of a build
type Plan struct {
	Reset      []string
	Staging    string
	Toolchains []*Toolchain
}

// Outputs returns the output directory of every toolchain in declaration order.
func (p *Plan) Outputs() []string {
	result := make([]string, len(p.Toolchains))
	for idx, tc := range p.Toolchains {
		result[idx] = tc.Output
	}
	return result
}

// Lookup returns the toolchain with the given name or nil
func (p *Plan) Lookup(name string) *Toolchain {
	for _, tc := range p.Toolchains {
		if tc.Name == name {
			return tc
		}
	}
	return nil
}

// Implement starlark.Value for *Toolchain

// String returns a string representation of the toolchain
func (t *Toolchain) String() string {
	return fmt.Sprintf("<Toolchain %s: %s>", t.Name, t.Desc)
}

// Type always returns "toolchain" to indicate this type
func (t *Toolchain) Type() string {
	return "toolchain"
}

// Freeze doesn't do anything since toolchains are immutable anyway
func (t *Toolchain) Freeze() {}

// Truth always returns true since a toolchain can't be nil or None
func (t *Toolchain) Truth() starlark.Bool {
	return starlark.True
}

func (t *Toolchain) Hash() (uint32, error) {
	return 0, eris.New("toolchain is not a hashable type")
}
