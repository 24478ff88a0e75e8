// Package buildsys implements a minimal build orchestrator. The supported toolchains are
// declared in an embedded Starlark script and their commands run through mvdan.cc/sh so that
// the same command lines work on every platform.
//
// A run resets the workspace, builds each toolchain whose marker file is present (in
// declaration order, stopping at the first failure) and finally reports which output
// directories exist.
package buildsys
