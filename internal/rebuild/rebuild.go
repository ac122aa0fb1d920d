// Package rebuild implements the Rebuild/Write Engine: it walks a
// Resolution Stack's dirty Handles from innermost to outermost, asking
// each to serialize itself into its parent's overlay slot, and finally
// replaces the outermost physical file atomically. Most archive formats
// this system supports cannot be mutated in place, so every commit is a
// full rebuild.
package rebuild

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Munger/arcfs/internal/entry"
	"github.com/Munger/arcfs/internal/localfs"
	"github.com/Munger/arcfs/internal/resolver"
	"github.com/Munger/arcfs/internal/stream"
)

func logOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Commit rebuilds every dirty Handle in stack, innermost first, and
// atomically replaces the outermost physical file if it ended up dirty.
// It is a no-op if nothing in stack is dirty.
func Commit(stack *resolver.Stack, threshold int64, tempDir string, logger *slog.Logger) error {
	logger = logOrDefault(logger)
	dirtyOuter, err := rebuildInnerLayers(stack, threshold, tempDir, logger)
	if err != nil {
		return err
	}
	if !dirtyOuter {
		return nil
	}
	outer := stack.Handles[0]
	outerPath := filepath.Join(stack.Root, outer.Name)
	entries := outer.Store.IterLive()
	err = localfs.CreateAtomic(outerPath, func(w io.Writer) error {
		return outer.Handler.Serialize(w, entries)
	})
	if err != nil {
		return fmt.Errorf("rebuild: commit %q: %w", outerPath, err)
	}
	outer.Dirty = false
	logger.Info("rebuild: archive materialized", "path", outerPath)
	return nil
}

// rebuildInnerLayers rebuilds every dirty Handle at depth > 0, folding
// each result into its parent's Entry Store as an overlay, and reports
// whether the outermost Handle (depth 0) ended up needing its own commit.
func rebuildInnerLayers(stack *resolver.Stack, threshold int64, tempDir string, logger *slog.Logger) (dirtyOuter bool, err error) {
	handles := stack.Handles
	if len(handles) == 0 {
		return false, nil
	}

	// Dirty propagates outward: find the deepest handle, then walk toward
	// depth 0 while ancestors remain dirty.
	dirtyFrom := -1
	for i := len(handles) - 1; i >= 0; i-- {
		if handles[i].Dirty {
			dirtyFrom = i
		} else {
			break
		}
	}
	if dirtyFrom == -1 {
		return false, nil
	}

	for k := len(handles) - 1; k >= dirtyFrom; k-- {
		h := handles[k]
		if !h.Dirty || k == 0 {
			continue
		}
		parent := handles[k-1]

		ws := stream.NewWriteStream(threshold, tempDir, h.Name)
		if serr := h.Handler.Serialize(ws, h.Store.IterLive()); serr != nil {
			ws.Abandon()
			return false, fmt.Errorf("rebuild: serialize %q: %w", h.Name, serr)
		}
		src, cerr := ws.Close()
		if cerr != nil {
			return false, fmt.Errorf("rebuild: finalize %q: %w", h.Name, cerr)
		}

		e, ok := parent.Store.Get(h.Name)
		if !ok {
			e = &entry.Entry{Name: h.Name, Kind: entry.KindFile}
		}
		e.Size = ws.Size()
		e.Source = src
		parent.Store.Put(e)
		parent.Dirty = true
		h.Dirty = false
		logger.Info("rebuild: entry rebuilt", "name", h.Name, "size", e.Size, "parent", parent.Name)
	}
	return handles[0].Dirty, nil
}

// Item pairs a Resolution Stack with a rebuild request, used by
// CommitTransaction to group independent stacks into one all-or-nothing
// batch.
type Item struct {
	Stack *resolver.Stack
}

// CommitTransaction rebuilds every item's inner layers, prepares every
// dirty outermost file as a sibling temp, and only renames temps into
// place once every item has succeeded. If any item fails, every prepared
// temp is deleted and no target file is touched, per §4.G's transaction
// guarantee. Rename ordering across items is unspecified.
func CommitTransaction(items []Item, threshold int64, tempDir string, logger *slog.Logger) error {
	logger = logOrDefault(logger)
	type pendingRename struct {
		tmpPath string
		outPath string
		handle  *resolver.Handle
	}
	var pending []pendingRename
	var tempsToClean []string

	cleanup := func() {
		for _, p := range tempsToClean {
			os.Remove(p)
		}
	}

	for _, item := range items {
		dirtyOuter, err := rebuildInnerLayers(item.Stack, threshold, tempDir, logger)
		if err != nil {
			cleanup()
			return err
		}
		if !dirtyOuter {
			continue
		}

		outer := item.Stack.Handles[0]
		outerPath := filepath.Join(item.Stack.Root, outer.Name)

		tmp, err := localfs.SiblingTempFile(outerPath)
		if err != nil {
			cleanup()
			return err
		}
		tempsToClean = append(tempsToClean, tmp.Name())

		if err := outer.Handler.Serialize(tmp, outer.Store.IterLive()); err != nil {
			tmp.Close()
			cleanup()
			return fmt.Errorf("rebuild: serialize %q: %w", outerPath, err)
		}
		if err := tmp.Close(); err != nil {
			cleanup()
			return fmt.Errorf("rebuild: finalize %q: %w", outerPath, err)
		}
		pending = append(pending, pendingRename{tmpPath: tmp.Name(), outPath: outerPath, handle: outer})
	}

	for _, p := range pending {
		if err := os.Rename(p.tmpPath, p.outPath); err != nil {
			return fmt.Errorf("rebuild: rename %q into place: %w", p.outPath, err)
		}
		p.handle.Dirty = false
		logger.Info("rebuild: file replaced", "path", p.outPath)
	}
	return nil
}
