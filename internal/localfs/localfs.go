// Package localfs wraps ordinary OS file operations so that a composite
// path segment with no archive boundary behaves exactly like a normal
// filesystem call. It is the Resolver's fallback once path segments stop
// crossing archives, and the Rebuild Engine's endpoint for the outermost
// physical file.
package localfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Open opens path for reading, exactly like os.Open.
func Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("localfs: open %q: %w", path, err)
	}
	return f, nil
}

// Stat returns fs.FileInfo for path.
func Stat(path string) (fs.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("localfs: stat %q: %w", path, err)
	}
	return fi, nil
}

// Exists reports whether path exists on the real filesystem, swallowing
// all errors other than existence per the facade's exists() contract
// ("never raises for missing path").
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MkdirAll creates path and any missing parents with the given
// permission, honoring the current process umask the same way the
// standard library normally would when create_parents behavior is
// requested explicitly rather than left to the OS default.
func MkdirAll(path string, perm fs.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("localfs: mkdir %q: %w", path, err)
	}
	return nil
}

// Remove deletes path, which must be a file (directories go through
// RemoveDir).
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("localfs: remove %q: %w", path, err)
	}
	return nil
}

// RemoveDir deletes an empty directory, or recursively if recursive is
// true.
func RemoveDir(path string, recursive bool) error {
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return fmt.Errorf("localfs: rmdir %q: %w", path, err)
	}
	return nil
}

// CreateAtomic writes to a temp file alongside target, then renames it
// into place, giving the outermost commit POSIX rename atomicity as
// required by the Rebuild Engine.
func CreateAtomic(target string, write func(io.Writer) error) (retErr error) {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "arcfs-*-"+filepath.Base(target)+".tmp")
	if err != nil {
		return fmt.Errorf("localfs: create temp for %q: %w", target, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("localfs: write temp for %q: %w", target, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("localfs: sync temp for %q: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localfs: close temp for %q: %w", target, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("localfs: rename temp into %q: %w", target, err)
	}
	return nil
}

// TempFile creates a uniquely named temp file in dir for spilled write
// streams, following the naming convention "arcfs-<random>-<basename>".
func TempFile(dir, outerBasename, suffix string) (*os.File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "arcfs-*-"+outerBasename+suffix)
	if err != nil {
		return nil, fmt.Errorf("localfs: create temp in %q: %w", dir, err)
	}
	return f, nil
}

// SiblingTempFile creates a uniquely named temp file in the same directory
// as target, so a subsequent rename onto target is guaranteed to be a
// same-filesystem, atomic POSIX rename. Used by the Rebuild Engine's
// two-phase transaction commit, where every temp must be prepared before
// any rename happens.
func SiblingTempFile(target string) (*os.File, error) {
	dir := filepath.Dir(target)
	f, err := os.CreateTemp(dir, "arcfs-*-"+filepath.Base(target)+".tmp")
	if err != nil {
		return nil, fmt.Errorf("localfs: create sibling temp for %q: %w", target, err)
	}
	return f, nil
}
