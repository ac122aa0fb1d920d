// Package entry implements the in-memory index of archive members: the
// Entry Store described in the archive filesystem's design. It tracks
// staged overlays (pending writes and deletes) on top of whatever a
// Handler loaded from the backing archive, so that reads inside an
// active session observe their own writes before anything is rebuilt.
package entry

import (
	"sort"
	"strings"
	"time"
)

// Kind classifies what an Entry represents inside its archive.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	// KindSymlink is an opaque passthrough entry for formats (TAR) that
	// carry symlink members. It is never followed.
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// SourceTag identifies which variant of ContentSource an Entry carries.
type SourceTag int

const (
	// SourceOriginal means the bytes live at an offset in the archive's
	// backing stream, exactly as the Handler's Load found them.
	SourceOriginal SourceTag = iota
	// SourceOverlay means the bytes were staged by a write and live in
	// memory or in a spilled temp file, not yet part of the backing
	// archive.
	SourceOverlay
	// SourceDeleted is a tombstone: the name existed in the original
	// archive but has been removed within the active session.
	SourceDeleted
)

// ContentSource is the tagged union described by the design: an entry's
// bytes are either still where the Handler found them (InOriginal), have
// been staged as an overlay (InOverlay), or the entry has been deleted
// (Deleted). Staged bytes live in OverlayBytes, or in the temp file named
// by OverlayPath once the write stream spilled.
type ContentSource struct {
	Tag SourceTag

	// Original fields, valid when Tag == SourceOriginal.
	Offset         int64
	CompressedSize int64
	Method         uint16

	// Overlay fields, valid when Tag == SourceOverlay.
	OverlayBytes []byte
	OverlayPath  string // non-empty when the overlay spilled to a temp file
}

// Entry is one member of an archive: its name, kind, logical size,
// modification time, optional permission bits, and where its content
// currently lives.
type Entry struct {
	Name    string // POSIX-form, relative, no leading slash, no "." or ".."
	Kind    Kind
	Size    int64
	ModTime time.Time
	Mode    uint32 // permission bits; 0 means "unspecified"
	HasMode bool
	Source  ContentSource

	// LinkTarget holds the link text for a KindSymlink entry; empty for
	// every other Kind.
	LinkTarget string
}

// Normalize applies the Entry Store's normalization rules to a raw name:
// strip a leading "./", collapse "//", convert OS separators to "/", and
// reject ".." segments. It returns ("", false) for names normalizing to
// invalid paths.
func Normalize(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	segs := strings.Split(name, "/")
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", false
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/"), true
}

// Store is the ordered, deduplicated index of an archive's entries with
// staged overlays layered on top. Insertion order is preserved so rebuild
// is deterministic.
type Store struct {
	byName map[string]*Entry
	order  []string
}

// NewStore returns an empty Entry Store.
func NewStore() *Store {
	return &Store{byName: make(map[string]*Entry)}
}

// Get returns the live entry for name, or (nil, false) if it is absent or
// tombstoned.
func (s *Store) Get(name string) (*Entry, bool) {
	e, ok := s.byName[name]
	if !ok || e.Source.Tag == SourceDeleted {
		return nil, false
	}
	return e, true
}

// Put inserts or replaces the entry for e.Name, clearing any tombstone and
// preserving the name's original insertion position if it already existed.
func (s *Store) Put(e *Entry) {
	if _, existed := s.byName[e.Name]; !existed {
		s.order = append(s.order, e.Name)
	}
	s.byName[e.Name] = e
}

// Delete marks name as removed. If the name never existed in the store,
// this is a no-op (nothing to tombstone or remove).
func (s *Store) Delete(name string) {
	e, ok := s.byName[name]
	if !ok {
		return
	}
	if e.Source.Tag == SourceOriginal {
		e.Source = ContentSource{Tag: SourceDeleted}
		return
	}
	// A staged-but-never-committed overlay entry has no original bytes to
	// tombstone; forget it outright.
	delete(s.byName, name)
	s.removeFromOrder(name)
}

func (s *Store) removeFromOrder(name string) {
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// IterLive returns the store's live entries (tombstones excluded) in
// insertion order.
func (s *Store) IterLive() []*Entry {
	out := make([]*Entry, 0, len(s.order))
	for _, name := range s.order {
		e := s.byName[name]
		if e.Source.Tag != SourceDeleted {
			out = append(out, e)
		}
	}
	return out
}

// Children returns the set of immediate child names of dir (the empty
// string for the archive root), including directory names inferred from
// entries nested beneath them even when no explicit directory entry
// exists.
func (s *Store) Children(dir string) []string {
	dir = strings.Trim(dir, "/")
	seen := make(map[string]struct{})
	for _, e := range s.IterLive() {
		rel := e.Name
		if dir != "" {
			if !strings.HasPrefix(rel, dir+"/") {
				continue
			}
			rel = strings.TrimPrefix(rel, dir+"/")
		}
		if rel == "" {
			continue
		}
		child, _, _ := strings.Cut(rel, "/")
		if child == "" {
			continue
		}
		seen[child] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasPrefixDir reports whether any live entry begins with prefix+"/",
// i.e. whether prefix behaves as a non-empty implicit directory.
func (s *Store) HasPrefixDir(prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return len(s.IterLive()) > 0
	}
	for _, e := range s.IterLive() {
		if strings.HasPrefix(e.Name, prefix+"/") {
			return true
		}
	}
	return false
}
