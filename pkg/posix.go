package pkg

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
)

// expandArgs resolves glob patterns on Windows since cmd.exe doesn't do that for us. On every
// other platform the shell already did the expansion.
func expandArgs(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := []string{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowEmpty {
				continue
			}
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

// Move moves all items into dest. If more than one item is passed, dest has to be a directory.
func Move(items []string, dest string) error {
	dest = filepath.Clean(dest)
	destParent := filepath.Dir(dest)
	info, err := os.Stat(destParent)
	if err != nil {
		return eris.Wrapf(err, "Could not find destination directory %s", destParent)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory!", destParent)
	}

	items, err = expandArgs(items, false)
	if err != nil {
		return err
	}

	info, err = os.Stat(dest)
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
	}
	destIsDir := err == nil && info.IsDir()

	if len(items) > 1 && !destIsDir {
		return eris.Errorf("Can't move multiple items to %s because it is not a directory!", dest)
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(item, itemDest)
		if err != nil {
			return eris.Wrapf(err, "Failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}

// Remove deletes the passed items. Directories are only removed if recursive is set and
// missing items are ignored if force is set.
func Remove(items []string, recursive, force bool) error {
	items, err := expandArgs(items, force)
	if err != nil {
		return err
	}

	existing := make([]string, 0, len(items))
	for _, item := range items {
		info, err := os.Lstat(item)
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
		existing = append(existing, item)
	}

	for _, item := range existing {
		err := os.RemoveAll(item)
		if err != nil {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}

// MakeDirs creates the passed directories. With parents set, missing parents are created and
// existing directories are accepted.
func MakeDirs(items []string, parents bool) error {
	for _, item := range items {
		var err error
		if parents {
			err = os.MkdirAll(item, 0770)
		} else {
			err = os.Mkdir(item, 0770)
		}

		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", item)
		}
	}

	return nil
}

// IsPosixHelper reports whether name is one of the commands RunPosixHelper implements.
func IsPosixHelper(name string) bool {
	switch name {
	case "mv", "rm", "mkdir":
		return true
	}
	return false
}

// RunPosixHelper executes rm, mkdir or mv in-process. args[0] is the command name, relative
// paths are resolved against dir.
func RunPosixHelper(dir string, args []string, stderr io.Writer) error {
	if len(args) == 0 || !IsPosixHelper(args[0]) {
		return eris.Errorf("unsupported helper %v", args)
	}

	flags := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	flags.SetOutput(stderr)
	recursive := flags.BoolP("recursive", "r", false, "recursively delete directories")
	force := flags.BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	parents := flags.BoolP("parents", "p", false, "create parent directories as needed")

	err := flags.Parse(args[1:])
	if err != nil {
		return eris.Wrapf(err, "invalid arguments for %s", args[0])
	}

	operands := flags.Args()
	for idx, item := range operands {
		if !filepath.IsAbs(item) {
			operands[idx] = filepath.Join(dir, item)
		}
	}

	switch args[0] {
	case "mv":
		if len(operands) < 2 {
			return eris.New("Not enough parameters")
		}
		return Move(operands[:len(operands)-1], operands[len(operands)-1])
	case "rm":
		return Remove(operands, *recursive, *force)
	default:
		return MakeDirs(operands, *parents)
	}
}
