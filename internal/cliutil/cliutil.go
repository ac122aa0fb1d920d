// Package cliutil holds the CLI-only helpers that never belong in the
// core: directory-import walking with glob-based exclusion. Glob matching
// across archive boundaries is explicitly out of scope for the core path
// resolver, so it lives here as an external collaborator, exactly the way
// the teacher's tar.go kept doublestar matching in its own compress
// command rather than in an archive-format package.
package cliutil

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ImportEntry is one file discovered while walking a directory for
// import into an archive.
type ImportEntry struct {
	// AbsPath is the entry's path on the real filesystem.
	AbsPath string
	// RelPath is AbsPath relative to the walk root, using "/" separators,
	// suitable for use directly as an archive entry name.
	RelPath string
	Info    fs.FileInfo
}

// WalkOptions configures a directory import walk.
type WalkOptions struct {
	// Exclude holds doublestar glob patterns matched against RelPath; a
	// match skips the entry (and, for a directory, its entire subtree).
	Exclude []string
	Logger  *slog.Logger
}

// WalkForImport walks root, yielding one ImportEntry per file, directory,
// and symlink not matched by an exclude pattern, in filepath.Walk's
// deterministic lexical order. This mirrors the teacher's Compress
// iterator but separates discovery from archive-writing so callers can
// feed entries into any Handler's Serialize without duplicating the
// pattern-matching logic per format.
func WalkForImport(root string, opts WalkOptions, visit func(ImportEntry) error) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return filepath.Walk(root, func(absPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("cliutil: walk %q: %w", absPath, err)
		}

		rel, err := filepath.Rel(root, absPath)
		if err != nil {
			rel = absPath
		}
		rel = filepath.ToSlash(rel)

		for _, pattern := range opts.Exclude {
			matched, err := doublestar.Match(pattern, rel)
			if err != nil {
				return fmt.Errorf("cliutil: bad exclude pattern %q: %w", pattern, err)
			}
			if matched {
				logger.Debug("exclude", "target", absPath, "pattern", pattern)
				if fi.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if rel == "." {
			return nil
		}

		logger.Debug("import", "target", absPath)
		return visit(ImportEntry{AbsPath: absPath, RelPath: rel, Info: fi})
	})
}
