// Package resolver implements the Path Resolver: it parses a composite
// path into an ordered chain of container segments and resolves it to a
// concrete Resolution Stack of open Archive Handles, materializing
// interior archives on demand and falling back to the real filesystem for
// segments that never cross an archive boundary.
package resolver

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Munger/arcfs/internal/arcerr"
	"github.com/Munger/arcfs/internal/entry"
	"github.com/Munger/arcfs/internal/handler"
	"github.com/Munger/arcfs/internal/localfs"
)

// Mode selects how the Resolver treats a missing archive-boundary segment.
type Mode int

const (
	// Read and Write both fail with NotFound on a missing segment; they
	// differ only in what the caller does once resolution succeeds.
	Read Mode = iota
	Write
	// Create synthesizes a new empty archive for a missing segment whose
	// name has a recognized extension: on the real filesystem at any
	// position, inside an archive only when further segments follow it.
	Create
)

// Handle is one entry in the Resolution Stack: one open archive.
type Handle struct {
	Name    string // this archive's name inside its parent (basename)
	Handler handler.Handler
	Store   *entry.Store
	Dirty   bool

	// ContainerKey uniquely identifies this archive within a HandleCache:
	// the physical path for a top-level archive, or the parent's
	// ContainerKey plus this archive's entry name for a nested one. Two
	// resolutions that reach the same container get the same Handle
	// instance back rather than opening it twice.
	ContainerKey string
}

// HandleCache lets a Resolver reuse an already-open Handle instead of
// reloading the same archive from its backing bytes every time a
// resolution passes through it. A Session implements this to keep every
// operation against the same container inside one Store until commit.
type HandleCache interface {
	Get(key string) (*Handle, bool)
	Put(key string, h *Handle)
}

// Stack is the ordered chain of Handles opened to reach a composite path,
// outermost first, plus the resolved leaf's location.
type Stack struct {
	Handles []*Handle

	// Root is the real filesystem directory that holds the outermost
	// archive (Handles[0]); while Handles is empty it is the directory
	// Resolve was called with. The Rebuild Engine joins it with
	// Handles[0].Name to find the outermost physical archive file.
	Root string

	// LeafName names the target: when Handles is non-empty, the entry name
	// inside Innermost().Store (the slash-joined remaining segments, e.g.
	// "a/b.txt"); otherwise a filename inside PhysicalDir.
	LeafName string

	// PhysicalDir is set when Handles is empty: the target never crossed
	// an archive boundary and lives directly on the real filesystem inside
	// this directory.
	PhysicalDir string
}

// Innermost returns the deepest open Handle, or nil if the path never
// crossed an archive boundary.
func (s *Stack) Innermost() *Handle {
	if len(s.Handles) == 0 {
		return nil
	}
	return s.Handles[len(s.Handles)-1]
}

// MarkDirty marks every Handle from idx down to 0 dirty, matching the
// invariant that dirty at depth k implies dirty at all depths < k.
func (s *Stack) MarkDirty(idx int) {
	for i := idx; i >= 0; i-- {
		s.Handles[i].Dirty = true
	}
}

// Close releases every open Handle's hold on its backing stream, innermost
// first.
func (s *Stack) Close() error {
	var first error
	for i := len(s.Handles) - 1; i >= 0; i-- {
		if err := s.Handles[i].Handler.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Registry is the subset of *registry.Registry the Resolver needs, kept
// as an interface so tests can substitute a stub without constructing a
// real one.
type Registry interface {
	Lookup(filename string) (handler.Factory, string, bool)
}

// Resolver walks composite paths into Resolution Stacks.
type Resolver struct {
	Registry Registry
	Logger   *slog.Logger
}

// New returns a Resolver backed by reg, logging bookkeeping (cache hits,
// archive opens/creates) to logger. A nil logger falls back to
// slog.Default().
func New(reg Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Registry: reg, Logger: logger}
}

// Split normalizes a composite path into its slash-separated segments,
// rejecting ".." components and null bytes.
func Split(path string) ([]string, error) {
	if strings.ContainsRune(path, 0) {
		return nil, arcerr.New(arcerr.InvalidPath, path, fmt.Errorf("null byte in path"))
	}
	norm, ok := entry.Normalize(path)
	if !ok {
		return nil, arcerr.New(arcerr.InvalidPath, path, fmt.Errorf("path escapes root"))
	}
	if norm == "" {
		return nil, nil
	}
	return strings.Split(norm, "/"), nil
}

// Resolve walks root (a real filesystem directory) through path's
// segments, descending into archives as their extensions are recognized
// by the Resolver's Registry, and returns the resulting Stack. mode
// controls how a missing final archive-boundary segment is treated.
// Resolve never shares Handles across calls; use ResolveCached when
// repeated resolutions against the same container must observe each
// other's staged writes.
func (r *Resolver) Resolve(root, path string, mode Mode) (*Stack, error) {
	return r.resolve(root, path, mode, nil)
}

// ResolveCached behaves like Resolve, but consults cache before opening or
// creating any archive Handle and registers every Handle it does open, so
// a caller resolving several paths that share a container gets the same
// Handle (and Store) back each time.
func (r *Resolver) ResolveCached(root, path string, mode Mode, cache HandleCache) (*Stack, error) {
	return r.resolve(root, path, mode, cache)
}

func (r *Resolver) resolve(root, path string, mode Mode, cache HandleCache) (*Stack, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, arcerr.New(arcerr.InvalidPath, path, fmt.Errorf("empty path"))
	}

	stack := &Stack{Root: root}
	physDir := root
	idx := 0

	for idx < len(segs) {
		cur := stack.Innermost()

		if cur == nil {
			seg := segs[idx]
			last := idx == len(segs)-1
			next, done, retStack, retErr := r.stepPhysical(physDir, seg, last, mode, stack, path, cache)
			if done {
				return retStack, retErr
			}
			if stack.Innermost() != nil {
				stack.Root = physDir
			}
			physDir = next
			idx++
			continue
		}

		nextIdx, done, retStack, retErr := r.stepArchive(cur, segs, idx, mode, stack, path, cache)
		if done {
			return retStack, retErr
		}
		idx = nextIdx
	}
	return stack, nil
}

// stepPhysical advances one segment while still walking the real
// filesystem (before any archive has been opened). done is true once the
// caller should return immediately (leaf reached, or an error occurred);
// next is the directory to continue from otherwise.
func (r *Resolver) stepPhysical(physDir, seg string, last bool, mode Mode, stack *Stack, origPath string, cache HandleCache) (next string, done bool, retStack *Stack, retErr error) {
	full := filepath.Join(physDir, seg)
	factory, _, matched := r.Registry.Lookup(seg)
	fi, statErr := os.Stat(full)
	exists := statErr == nil

	switch {
	case matched && exists && !fi.IsDir():
		if cache != nil {
			if h, ok := cache.Get(full); ok {
				r.Logger.Debug("resolver: handle cache hit", "container", full)
				stack.Handles = append(stack.Handles, h)
				return "", false, nil, nil
			}
		}
		h, err := r.openArchive(seg, full, factory)
		if err != nil {
			return "", true, nil, err
		}
		h.ContainerKey = full
		r.Logger.Debug("resolver: opened archive", "container", full)
		if cache != nil {
			cache.Put(full, h)
		}
		stack.Handles = append(stack.Handles, h)
		return "", false, nil, nil
	case matched && !exists && mode == Create:
		if cache != nil {
			if h, ok := cache.Get(full); ok {
				r.Logger.Debug("resolver: handle cache hit", "container", full)
				stack.Handles = append(stack.Handles, h)
				return "", false, nil, nil
			}
		}
		h := r.createArchive(seg, factory)
		h.ContainerKey = full
		r.Logger.Debug("resolver: created new archive", "container", full)
		if cache != nil {
			cache.Put(full, h)
		}
		stack.Handles = append(stack.Handles, h)
		return "", false, nil, nil
	case last:
		stack.LeafName = seg
		stack.PhysicalDir = physDir
		return "", true, stack, nil
	case exists && fi.IsDir():
		return full, false, nil, nil
	case !exists:
		return "", true, nil, arcerr.New(arcerr.NotFound, origPath, nil)
	default:
		return "", true, nil, arcerr.New(arcerr.NotADirectory, origPath, nil)
	}
}

// stepArchive advances through segs starting at idx while resolving
// against cur's Entry Store (an archive boundary has already been
// crossed). Archive entries carry full slash-joined names (ZIP and TAR
// both store paths this way), so this greedily extends the candidate
// entry name segment by segment: a directory-like prefix that isn't
// itself a recognized archive is skipped over rather than looked up on
// its own, and the whole remaining suffix becomes the leaf name once no
// further archive boundary is found.
func (r *Resolver) stepArchive(cur *Handle, segs []string, idx int, mode Mode, stack *Stack, origPath string, cache HandleCache) (nextIdx int, done bool, retStack *Stack, retErr error) {
	for j := idx; j < len(segs); j++ {
		candidate := strings.Join(segs[idx:j+1], "/")
		last := j == len(segs)-1
		e, found := cur.Store.Get(candidate)
		factory, _, matched := r.Registry.Lookup(segs[j])

		switch {
		case found && matched && e.Kind == entry.KindFile && !last:
			key := cur.ContainerKey + "\x00" + candidate
			if cache != nil {
				if h, ok := cache.Get(key); ok {
					r.Logger.Debug("resolver: handle cache hit", "container", key)
					stack.Handles = append(stack.Handles, h)
					return j + 1, false, nil, nil
				}
			}
			h, err := r.openNestedArchive(candidate, cur, e, factory)
			if err != nil {
				return 0, true, nil, err
			}
			h.ContainerKey = key
			r.Logger.Debug("resolver: opened nested archive", "container", key)
			if cache != nil {
				cache.Put(key, h)
			}
			stack.Handles = append(stack.Handles, h)
			return j + 1, false, nil, nil

		case !found && matched && mode == Create && !last:
			key := cur.ContainerKey + "\x00" + candidate
			if cache != nil {
				if h, ok := cache.Get(key); ok {
					r.Logger.Debug("resolver: handle cache hit", "container", key)
					stack.Handles = append(stack.Handles, h)
					return j + 1, false, nil, nil
				}
			}
			cur.Store.Put(&entry.Entry{Name: candidate, Kind: entry.KindFile})
			cur.Dirty = true
			h := r.createArchive(candidate, factory)
			h.ContainerKey = key
			r.Logger.Debug("resolver: created new nested archive", "container", key, "dirty_parent", cur.ContainerKey)
			if cache != nil {
				cache.Put(key, h)
			}
			stack.Handles = append(stack.Handles, h)
			return j + 1, false, nil, nil

		case last:
			stack.LeafName = candidate
			return j + 1, true, stack, nil

		case found && e.Kind == entry.KindDir:
			continue

		case found:
			return j + 1, true, nil, arcerr.New(arcerr.NotADirectory, origPath, nil)

		default:
			// Not a recognized entry on its own: treat it as an implied
			// directory prefix if something is already nested under it, or
			// (in Create mode) vivify it implicitly and keep extending.
			if cur.Store.HasPrefixDir(candidate) || mode == Create {
				continue
			}
			return j + 1, true, nil, arcerr.New(arcerr.NotFound, origPath, nil)
		}
	}
	return len(segs), true, nil, arcerr.New(arcerr.InvalidPath, origPath, fmt.Errorf("no segments to resolve"))
}

func (r *Resolver) openArchive(name, fullPath string, factory handler.Factory) (*Handle, error) {
	f, err := localfs.Open(fullPath)
	if err != nil {
		return nil, arcerr.New(arcerr.IOError, fullPath, err)
	}
	h := factory(name)
	store, err := h.Load(f)
	if err != nil {
		return nil, arcerr.New(arcerr.FormatError, fullPath, err)
	}
	return &Handle{Name: name, Handler: h, Store: store}, nil
}

func (r *Resolver) openNestedArchive(name string, parent *Handle, e *entry.Entry, factory handler.Factory) (*Handle, error) {
	rc, err := openEntryContent(parent, e)
	if err != nil {
		return nil, arcerr.New(arcerr.FormatError, name, err)
	}
	h := factory(name)
	store, err := h.Load(rc)
	if err != nil {
		return nil, arcerr.New(arcerr.FormatError, name, err)
	}
	return &Handle{Name: name, Handler: h, Store: store}, nil
}

// openEntryContent resolves e's bytes regardless of its content-source
// variant. The resolver only ever sees SourceOriginal or SourceOverlay
// entries; Store.Get already filters out tombstones.
func openEntryContent(h *Handle, e *entry.Entry) (io.ReadCloser, error) {
	switch e.Source.Tag {
	case entry.SourceOriginal:
		return h.Handler.OpenEntryRead(e)
	case entry.SourceOverlay:
		if e.Source.OverlayPath != "" {
			return localfs.Open(e.Source.OverlayPath)
		}
		return io.NopCloser(strings.NewReader(string(e.Source.OverlayBytes))), nil
	default:
		return nil, fmt.Errorf("entry %q has no readable content", e.Name)
	}
}

func (r *Resolver) createArchive(name string, factory handler.Factory) *Handle {
	h := factory(name)
	return &Handle{Name: name, Handler: h, Store: entry.NewStore(), Dirty: true}
}
