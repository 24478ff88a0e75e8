package buildsys

import (
	"context"
	_ "embed"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

//go:embed toolchains.star
var defaultScript []byte

type parserCtx struct {
	ctx        context.Context
	filepath   string
	plan       *Plan
	names      map[string]bool
	stagingSet bool
	initPhase  bool
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

// cleanRelPath makes sure p stays inside the working directory
func cleanRelPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || path.IsAbs(p) {
		return "", eris.Errorf("%q has to be a relative path", p)
	}

	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", eris.Errorf("%q points outside of the working directory", p)
	}

	return p, nil
}

// * Builtin functions

func toolchain(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var env *starlark.Dict
	var cmds *starlark.List

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.Errorf("%s: can only be called inside configure()", fn.Name())
	}

	tc := new(Toolchain)
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &tc.Name, "marker", &tc.Marker,
		"output", &tc.Output, "cmds", &cmds, "desc?", &tc.Desc, "env?", &env, "isolated_env?", &tc.Isolated)
	if err != nil {
		return nil, err
	}

	if tc.Name == "" {
		return nil, eris.Errorf("%s: name can't be empty", fn.Name())
	}

	if ctx.names[tc.Name] {
		return nil, eris.Errorf("%s: toolchain %s was declared twice", fn.Name(), tc.Name)
	}

	tc.Marker, err = cleanRelPath(tc.Marker)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: invalid marker for %s", fn.Name(), tc.Name)
	}

	tc.Output, err = cleanRelPath(tc.Output)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: invalid output for %s", fn.Name(), tc.Name)
	}

	tc.Env = map[string]string{}
	if env != nil {
		for _, rawKey := range env.Keys() {
			key, ok := rawKey.(starlark.String)
			if !ok {
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", rawKey.Type())
			}

			rawValue, _, err := env.Get(rawKey)
			if err != nil {
				return nil, err
			}

			value, ok := rawValue.(starlark.String)
			if !ok {
				return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", rawValue.Type(), key.GoString())
			}
			tc.Env[key.GoString()] = value.GoString()
		}
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()
	strBuffer := strings.Builder{}
	tc.Cmds = make([]TaskCmdScript, 0, cmds.Len())

	iter := cmds.Iterate()
	defer iter.Done()

	var item starlark.Value
	idx := 0
	for iter.Next(&item) {
		var parts starlark.Tuple

		switch value := item.(type) {
		case starlark.String:
			tc.Cmds = append(tc.Cmds, TaskCmdScript{TaskName: tc.Name, Content: value.GoString(), Index: idx})
			idx++
			continue
		case starlark.Tuple:
			parts = value
		case *starlark.List:
			parts = make(starlark.Tuple, 0, value.Len())
			subIter := value.Iterate()
			var subItem starlark.Value
			for subIter.Next(&subItem) {
				parts = append(parts, subItem)
			}
			subIter.Done()
		default:
			return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples and lists are valid", fn.Name(), item.Type())
		}

		cmd, err := processCmdParts(parts, parser)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to process command #%d of %s", idx, tc.Name)
		}

		strBuffer.Reset()
		err = printer.Print(&strBuffer, cmd)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to process command #%d of %s", idx, tc.Name)
		}

		tc.Cmds = append(tc.Cmds, TaskCmdScript{TaskName: tc.Name, Content: strBuffer.String(), Index: idx})
		idx++
	}

	if len(tc.Cmds) == 0 {
		warn(thread, "%s: %s doesn't have any commands", fn.Name(), tc.Name)
	}

	// parse everything once to catch syntax errors before a build starts
	for _, cmd := range tc.Cmds {
		_, err := cmd.ToShellStmts(parser)
		if err != nil {
			return nil, err
		}
	}

	ctx.names[tc.Name] = true
	ctx.plan.Toolchains = append(ctx.plan.Toolchains, tc)
	return tc, nil
}

func reset(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var paths *starlark.List

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &paths)
	if err != nil {
		return nil, err
	}

	items, err := starlarkIterable2stringSlice(paths, "paths")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	for _, item := range items {
		item, err = cleanRelPath(item)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: invalid path", fn.Name())
		}
		ctx.plan.Reset = append(ctx.plan.Reset, item)
	}

	return starlark.None, nil
}

func staging(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dir)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.stagingSet {
		return nil, eris.Errorf("%s: the staging directory can only be set once", fn.Name())
	}

	ctx.plan.Staging, err = cleanRelPath(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: invalid directory", fn.Name())
	}
	ctx.stagingSet = true

	return starlark.None, nil
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	info(thread, "%s", message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	warn(thread, "%s", message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var defaultValue string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key, &defaultValue)
	if err != nil {
		return nil, err
	}

	value, ok := os.LookupEnv(key)
	if !ok {
		value = defaultValue
	}

	return starlark.String(value), nil
}

// Parse executes a toolchain script and returns the plan its configure() function declares.
func Parse(ctx context.Context, filename string, script []byte) (*Plan, error) {
	builtins := starlark.StringDict{
		"OS":        starlark.String(runtime.GOOS),
		"ARCH":      starlark.String(runtime.GOARCH),
		"info":      starlark.NewBuiltin("info", starInfo),
		"warn":      starlark.NewBuiltin("warn", starWarn),
		"error":     starlark.NewBuiltin("error", starError),
		"getenv":    starlark.NewBuiltin("getenv", getenv),
		"toolchain": starlark.NewBuiltin("toolchain", toolchain),
		"reset":     starlark.NewBuiltin("reset", reset),
		"staging":   starlark.NewBuiltin("staging", staging),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:       ctx,
		filepath:  filename,
		plan:      &Plan{},
		names:     make(map[string]bool),
		initPhase: true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	globals, err := starlark.ExecFile(thread, filename, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", filename, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", filename)
	}

	configure, ok := globals["configure"]
	if !ok {
		return nil, eris.Errorf("%s did not declare a configure function", filename)
	}

	// ifs are only allowed inside functions which is why the declarations live in configure()
	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, eris.Errorf("%s did declare a configure value but it's not a function", filename)
	}

	threadCtx.initPhase = false
	_, err = starlark.Call(thread, configureFunc, starlark.Tuple{}, nil)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.New(evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed configure call in %s", filename)
	}

	plan := threadCtx.plan
	if len(plan.Toolchains) == 0 {
		return nil, eris.Errorf("%s did not declare any toolchains", filename)
	}

	if !threadCtx.stagingSet {
		return nil, eris.Errorf("%s did not declare a staging directory", filename)
	}

	return plan, nil
}

// DefaultPlan returns the plan declared by the built-in toolchain script.
func DefaultPlan(ctx context.Context) (*Plan, error) {
	return Parse(ctx, "toolchains.star", defaultScript)
}

// LoadPlan parses the toolchain script at file. An empty file selects the built-in script.
func LoadPlan(ctx context.Context, file string) (*Plan, error) {
	if file == "" {
		return DefaultPlan(ctx)
	}

	script, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", file)
	}

	return Parse(ctx, file, script)
}
