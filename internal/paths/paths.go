// Package paths knows where betteruse keeps its on-disk state. It imports
// nothing but the standard library so every other package can use it
// without import cycles.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// dirName is the dot-directory under the user's home.
const dirName = ".betteruse"

func home() (string, error) {
	h, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return h, nil
}

// BaseDir returns the root of the data tree, ~/.betteruse.
func BaseDir() (string, error) {
	h, err := home()
	if err != nil {
		return "", err
	}
	return filepath.Join(h, dirName), nil
}

// DataPath joins subpath onto the data tree root.
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// EnsureDir creates path and any missing parents. Directories are made 0750
// so only the owning user and group can enter.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir makes sure the directory holding filePath exists.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde rewrites a leading ~ to the user's home directory and leaves
// every other path alone.
func ExpandTilde(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	h, err := home()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return h, nil
	}
	return filepath.Join(h, path[1:]), nil
}
