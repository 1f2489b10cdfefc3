package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	"github.com/repomirrorhq/better-use-sub001/internal/paths"
)

// DefaultBackupCount is how many backup versions BackupAndWriteJSON keeps
// when the caller does not say.
const DefaultBackupCount = 5

// AtomicWriteJSON marshals data as indented JSON and writes it through
// AtomicWrite.
func AtomicWriteJSON(path string, data any, perm os.FileMode) error {
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return AtomicWrite(path, blob, perm)
}

// AtomicWrite replaces path with data in one rename, so a crash mid-write
// never leaves a truncated file behind.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := paths.EnsureDir(dir); err != nil {
		return err
	}

	tmpPath, err := writeTemp(dir, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// writeTemp materializes data in a synced temp file inside dir. The temp
// file has to live on the target filesystem or the final rename stops
// being atomic.
func writeTemp(dir string, data []byte, perm os.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, ".betteruse-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()

	err = func() error {
		if err := tmp.Chmod(perm); err != nil {
			return fmt.Errorf("chmod temp file: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			return fmt.Errorf("write temp file: %w", err)
		}
		return tmp.Sync()
	}()
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// BackupAndWriteJSON rotates a backup of the existing file, then atomically
// writes the new data. A failed backup is logged and never blocks the write.
func BackupAndWriteJSON(path string, data any, maxBackups int) error {
	if maxBackups <= 0 {
		maxBackups = DefaultBackupCount
	}

	if _, err := os.Stat(path); err == nil {
		rotateBackups(path, maxBackups)
		if err := copyFile(path, path+".bak"); err != nil {
			L_warn("config: backup failed, continuing with save", "error", err)
		} else {
			L_debug("config: created backup", "path", path+".bak")
		}
	}

	if err := AtomicWriteJSON(path, data, 0o600); err != nil {
		return err
	}
	L_debug("config: saved", "path", path)
	return nil
}

// rotateBackups ages the chain one step: the oldest .bak.N falls off, each
// .bak.i moves to .bak.i+1, and .bak becomes .bak.1.
func rotateBackups(path string, maxBackups int) {
	if maxBackups <= 1 {
		return
	}

	base := path + ".bak"
	top := maxBackups - 1

	oldest := fmt.Sprintf("%s.%d", base, top)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		L_trace("config: drop oldest backup", "path", oldest, "error", err)
	}
	for i := top - 1; i >= 1; i-- {
		shiftBackup(fmt.Sprintf("%s.%d", base, i), fmt.Sprintf("%s.%d", base, i+1))
	}
	shiftBackup(base, base+".1")
}

func shiftBackup(src, dst string) {
	if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
		L_trace("config: shift backup", "src", src, "dst", dst, "error", err)
	}
}

// copyFile duplicates src to dst with the same permissions. Backup sources
// are small JSON documents, so one read is fine.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}
