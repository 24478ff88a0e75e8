package buildsys

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

// getEnvVars merges the process environment with the passed overrides. Overridden entries
// are dropped from the process environment to avoid conflicts.
func getEnvVars(overrides map[string]string) []string {
	osEnv := os.Environ()
	shellEnv := make([]string, 0, len(osEnv)+len(overrides))
	for _, item := range osEnv {
		parts := strings.SplitN(item, "=", 2)
		if runtime.GOOS == "windows" {
			parts[0] = strings.ToUpper(parts[0])
		}

		if _, present := overrides[parts[0]]; !present {
			shellEnv = append(shellEnv, item)
		}
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		shellEnv = append(shellEnv, fmt.Sprintf("%s=%s", k, overrides[k]))
	}

	return shellEnv
}

// venvBinDir returns the directory a Python virtual environment keeps its executables in
func venvBinDir(venv string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts")
	}
	return filepath.Join(venv, "bin")
}

// isolatedEnv returns the variables which activate the virtual environment at venv
func isolatedEnv(venv string) map[string]string {
	path := os.Getenv("PATH")
	if runtime.GOOS == "windows" && path == "" {
		path = os.Getenv("Path")
	}

	return map[string]string{
		"VENV":        venv,
		"VIRTUAL_ENV": venv,
		"PATH":        venvBinDir(venv) + string(os.PathListSeparator) + path,
	}
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

// processCmdParts turns a tuple like ("CC=clang", "make", "all") into a shell call. Leading
// items containing "=" become variable assignments.
func processCmdParts(parts starlark.Tuple, parser *syntax.Parser) (*syntax.CallExpr, error) {
	envVars := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !strings.Contains(value.GoString(), "=") {
			break
		}
		envVars = append(envVars, value.GoString())
	}

	var cmd *syntax.CallExpr
	if len(envVars) > 0 {
		joinedEnvVars := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joinedEnvVars), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joinedEnvVars)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}
	} else {
		cmd = new(syntax.CallExpr)
	}

	argCount := len(parts) - len(envVars)
	if argCount < 1 {
		return nil, eris.New("command is missing a program")
	}

	cmd.Args = make([]*syntax.Word, argCount)
	for a, arg := range parts[len(envVars):] {
		value, ok := arg.(starlark.String)
		if !ok {
			return nil, eris.Errorf("found argument of type %s but only strings are supported: %s", arg.Type(), arg.String())
		}
		encodedValue := value.GoString()

		var wordPart syntax.WordPart
		if strings.ContainsAny(encodedValue, " $'") {
			node := new(syntax.SglQuoted)
			node.Value = encodedValue

			wordPart = syntax.WordPart(node)
		} else {
			node := new(syntax.Lit)
			node.Value = encodedValue

			wordPart = syntax.WordPart(node)
		}

		cmd.Args[a] = new(syntax.Word)
		cmd.Args[a].Parts = []syntax.WordPart{wordPart}
	}

	return cmd, nil
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", ctx.filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", ctx.filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}
