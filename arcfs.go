// Package arcfs implements a composite filesystem over nested archive
// containers: ZIP, TAR, TAR-over-codec, and bare codec streams can be
// addressed and mutated through ordinary slash-separated paths, crossing
// as many archive boundaries as the path names. See SPEC_FULL.md for the
// full design; this file assembles the Path Resolver, Handler Registry,
// and Rebuild Engine into the external-facing facade described there.
package arcfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Munger/arcfs/internal/cliutil"
	"github.com/Munger/arcfs/internal/codec"
	"github.com/Munger/arcfs/internal/entry"
	"github.com/Munger/arcfs/internal/handler"
	"github.com/Munger/arcfs/internal/localfs"
	"github.com/Munger/arcfs/internal/registry"
	"github.com/Munger/arcfs/internal/resolver"
	"github.com/Munger/arcfs/internal/stream"
)

// ArchiveFS is the facade every external collaborator drives: it owns a
// Handler Registry and a Path Resolver bound to a process working
// directory, and hands out Sessions and Transactions for scoped commits.
type ArchiveFS struct {
	root     string
	config   Config
	registry *registry.Registry
	resolver *resolver.Resolver
}

// New constructs an ArchiveFS rooted at the process working directory,
// with the default Handler Registry (ZIP, TAR, TAR+codec composites, and
// bare codec-single handlers for every codec the chain supports)
// registered. opts override Config fields before defaults are filled in.
func New(opts ...Option) (*ArchiveFS, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("arcfs: getwd: %w", err)
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	reg := registry.New()
	registerDefaults(reg, cfg)

	return &ArchiveFS{
		root:     cwd,
		config:   cfg,
		registry: reg,
		resolver: resolver.New(reg, cfg.Logger),
	}, nil
}

// registerDefaults wires every format the codec chain and archive handler
// abstraction support into reg, keyed the way the registry expects:
// single extensions for plain formats, multi-part extensions (".tar.gz")
// for TAR+codec composites so they beat the plain ".gz" match. Each
// constructed handler carries cfg's per-format buffer size, so
// WithHandlerBufferSizes (or the CLI's --zip-buffer-size and friends)
// actually reaches the handler's I/O chunking.
func registerDefaults(reg *registry.Registry, cfg Config) {
	reg.Register(".zip", func(string) handler.Handler { return handler.NewZipSized(cfg.ZipBufferSize) })
	reg.Register(".tar", func(string) handler.Handler { return handler.NewTarSized(cfg.TarBufferSize) })

	codecBufferSize := func(k codec.Kind) int {
		switch k {
		case codec.Gzip:
			return cfg.GzipBufferSize
		case codec.Bzip2:
			return cfg.Bzip2BufferSize
		case codec.Xz:
			return cfg.XzBufferSize
		default:
			return 0
		}
	}

	for _, k := range []codec.Kind{codec.Gzip, codec.Bzip2, codec.Xz, codec.Zstd, codec.Lz4} {
		k := k
		bufSize := codecBufferSize(k)
		reg.Register(codec.ExtensionFor(k), func(name string) handler.Handler {
			return handler.NewCodecSingleSized(k, name, bufSize)
		})
	}

	tarComposite := func(k codec.Kind) handler.Factory {
		bufSize := codecBufferSize(k)
		return func(string) handler.Handler { return handler.NewTarCodecSized(k, bufSize) }
	}
	reg.Register(".tar.gz", tarComposite(codec.Gzip))
	reg.Register(".tgz", tarComposite(codec.Gzip))
	reg.Register(".tar.bz2", tarComposite(codec.Bzip2))
	reg.Register(".tbz2", tarComposite(codec.Bzip2))
	reg.Register(".tbz", tarComposite(codec.Bzip2))
	reg.Register(".tar.xz", tarComposite(codec.Xz))
	reg.Register(".txz", tarComposite(codec.Xz))
	reg.Register(".tar.zst", tarComposite(codec.Zstd))
	reg.Register(".tzst", tarComposite(codec.Zstd))
	reg.Register(".tar.lz4", tarComposite(codec.Lz4))
	reg.Register(".tlz4", tarComposite(codec.Lz4))
}

// SetArchiveHandler registers factory for ext, shadowing any built-in
// handler for the same extension. ext may be multi-part (".tar.gz").
func (a *ArchiveFS) SetArchiveHandler(ext string, factory func(name string) handler.Handler) {
	a.registry.Register(ext, handler.Factory(factory))
}

// splitPath determines path's physical root (filesystem root for an
// absolute path, the ArchiveFS's working directory otherwise) and the
// path relative to it. Validation of the relative path itself happens
// inside resolver.Resolve, which every caller of splitPath goes on to
// call.
func (a *ArchiveFS) splitPath(path string) (root string, rel string) {
	if filepath.IsAbs(path) {
		return string(filepath.Separator), strings.TrimPrefix(path, string(filepath.Separator))
	}
	return a.root, path
}

// OpenMode selects Open's read/write/append/binary behavior.
type OpenMode int

const (
	OpenRead OpenMode = iota
	OpenWrite
	OpenAppend
)

// oneShot runs a single facade operation through its own Session,
// committing on success and discarding on any error, matching every
// non-batch operation's "resolve, mutate, commit" shape.
func (a *ArchiveFS) oneShot(fn func(s *Session) error) error {
	sess := newSession(a)
	if err := fn(sess); err != nil {
		sess.discard()
		return err
	}
	return sess.commit()
}

// Open resolves path and returns a Stream: a ReadCloser in OpenRead mode,
// or a WriteCloser whose Close both stages the written bytes as an
// overlay and commits the owning Session, in OpenWrite/OpenAppend mode.
// The returned value also implements io.Seeker; Seek succeeds for a
// physical file or an entry whose container Handler reports
// Capabilities().RandomRead (ZIP, TAR), and reports an error for formats
// that only decode forward (codec-single streams).
func (a *ArchiveFS) Open(path string, mode OpenMode) (io.ReadWriteCloser, error) {
	switch mode {
	case OpenRead:
		return a.openRead(path)
	case OpenWrite:
		return a.openWrite(path, nil)
	case OpenAppend:
		existing, err := a.Read(path)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		return a.openWrite(path, existing)
	default:
		return nil, newError(InvalidPath, path, fmt.Errorf("unknown open mode"))
	}
}

func (a *ArchiveFS) openRead(path string) (io.ReadWriteCloser, error) {
	sess := newSession(a)
	rc, err := readEntry(sess, path)
	if err != nil {
		sess.discard()
		return nil, err
	}
	return &sessionReadCloser{ReadCloser: rc, sess: sess}, nil
}

// sessionReadCloser discards its owning read-only Session on Close, since
// a read never stages anything worth committing.
type sessionReadCloser struct {
	io.ReadCloser
	sess *Session
}

func (s *sessionReadCloser) Write([]byte) (int, error) {
	return 0, fmt.Errorf("arcfs: stream opened for reading")
}

// Seek forwards to the wrapped stream when it supports seeking, which
// readEntry arranges whenever the entry's container Handler reports
// Capabilities().RandomRead. Physical files (returned by localfs.Open,
// already an *os.File) support it natively; codec-single archives, which
// decode a stream forward-only, do not.
func (s *sessionReadCloser) Seek(offset int64, whence int) (int64, error) {
	sk, ok := s.ReadCloser.(io.Seeker)
	if !ok {
		return 0, fmt.Errorf("arcfs: stream does not support seeking")
	}
	return sk.Seek(offset, whence)
}

func (s *sessionReadCloser) Close() error {
	err := s.ReadCloser.Close()
	s.sess.discard()
	return err
}

// openWrite returns a WriteCloser seeded with prefix bytes (for append),
// whose Close stages the accumulated write as an overlay entry and
// commits the owning Session.
func (a *ArchiveFS) openWrite(path string, prefix []byte) (io.ReadWriteCloser, error) {
	sess := newSession(a)
	stack, leaf, err := sess.resolve(path, resolver.Create)
	if err != nil {
		sess.discard()
		return nil, err
	}
	ws := stream.NewWriteStream(a.config.GlobalBufferSize, a.config.TempDir, outerBasename(stack))
	if len(prefix) > 0 {
		if _, err := ws.Write(prefix); err != nil {
			ws.Abandon()
			sess.discard()
			return nil, translateErr(err, path)
		}
	}
	return &sessionWriteCloser{ws: ws, sess: sess, stack: stack, leaf: leaf, path: path}, nil
}

type sessionWriteCloser struct {
	ws    *stream.WriteStream
	sess  *Session
	stack *resolver.Stack
	leaf  string
	path  string
	done  bool
}

func (s *sessionWriteCloser) Read([]byte) (int, error) {
	return 0, fmt.Errorf("arcfs: stream opened for writing")
}

func (s *sessionWriteCloser) Write(p []byte) (int, error) {
	return s.ws.Write(p)
}

func (s *sessionWriteCloser) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	src, err := s.ws.Close()
	if err != nil {
		s.sess.discard()
		return translateErr(err, s.path)
	}
	if s.stack.Innermost() == nil {
		data := src.OverlayBytes
		if src.OverlayPath != "" {
			data, err = os.ReadFile(src.OverlayPath)
			os.Remove(src.OverlayPath)
		}
		if err == nil {
			err = stagePhysicalWrite(s.stack, s.leaf, data)
		}
		if err != nil {
			s.sess.discard()
			return translateErr(err, s.path)
		}
	}
	stageWrite(s.stack, s.leaf, src, s.ws.Size())
	return s.sess.commit()
}

func outerBasename(stack *resolver.Stack) string {
	if len(stack.Handles) == 0 {
		return filepath.Base(stack.PhysicalDir)
	}
	return stack.Handles[0].Name
}

// stageWrite records src as the overlay content for leaf inside stack's
// innermost container, marking every ancestor dirty. It does nothing for a
// path that never crossed an archive boundary; callers write those to the
// real filesystem themselves through stagePhysicalWrite.
func stageWrite(stack *resolver.Stack, leaf string, src entry.ContentSource, size int64) {
	inner := stack.Innermost()
	if inner == nil {
		return
	}
	e, ok := inner.Store.Get(leaf)
	if !ok {
		e = &entry.Entry{Name: leaf, Kind: entry.KindFile, ModTime: time.Time{}}
	}
	e.Size = size
	e.Source = src
	inner.Store.Put(e)
	stack.MarkDirty(len(stack.Handles) - 1)
}

// stagePhysicalWrite persists data directly to disk for a path that never
// crossed an archive boundary. Physical writes commit immediately; there
// is no outer container to rebuild.
func stagePhysicalWrite(stack *resolver.Stack, leaf string, data []byte) error {
	target := filepath.Join(stack.PhysicalDir, leaf)
	return localfs.CreateAtomic(target, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// readEntry opens leaf for reading through sess, whether it lives inside
// an archive or directly on the real filesystem.
func readEntry(sess *Session, path string) (io.ReadCloser, error) {
	stack, leaf, err := sess.resolve(path, resolver.Read)
	if err != nil {
		return nil, err
	}
	inner := stack.Innermost()
	if inner == nil {
		f, err := localfs.Open(filepath.Join(stack.PhysicalDir, leaf))
		if err != nil {
			return nil, translateErr(err, path)
		}
		return f, nil
	}
	e, ok := inner.Store.Get(leaf)
	if !ok {
		return nil, newError(NotFound, path, nil)
	}
	if e.Kind != entry.KindFile {
		return nil, newError(IsADirectory, path, nil)
	}
	rc, err := openLiveEntry(inner, e)
	if err != nil {
		return nil, translateErr(err, path)
	}
	if inner.Handler.Capabilities().RandomRead {
		reopen := func() (io.ReadCloser, error) { return openLiveEntry(inner, e) }
		return stream.NewReadStream(rc, reopen), nil
	}
	return rc, nil
}

// openLiveEntry resolves e's bytes through inner's handler for original
// content, or directly for a staged overlay.
func openLiveEntry(inner *resolver.Handle, e *entry.Entry) (io.ReadCloser, error) {
	switch e.Source.Tag {
	case entry.SourceOriginal:
		return inner.Handler.OpenEntryRead(e)
	case entry.SourceOverlay:
		if e.Source.OverlayPath != "" {
			return localfs.Open(e.Source.OverlayPath)
		}
		return io.NopCloser(strings.NewReader(string(e.Source.OverlayBytes))), nil
	default:
		return nil, fmt.Errorf("arcfs: entry %q has no readable content", e.Name)
	}
}

// Read performs a one-shot binary read of path.
func (a *ArchiveFS) Read(path string) ([]byte, error) {
	sess := newSession(a)
	rc, err := readEntry(sess, path)
	if err != nil {
		sess.discard()
		return nil, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	sess.discard()
	if err != nil {
		return nil, translateErr(err, path)
	}
	return data, nil
}

// ReadText performs a one-shot read of path, validated as UTF-8.
func (a *ArchiveFS) ReadText(path string) (string, error) {
	sess := newSession(a)
	rc, err := readEntry(sess, path)
	if err != nil {
		sess.discard()
		return "", err
	}
	text, err := stream.ReadAllText(rc)
	rc.Close()
	sess.discard()
	if err != nil {
		return "", translateErr(err, path)
	}
	return text, nil
}

// Write overwrites path with data, creating intermediate archives and
// directories as needed.
func (a *ArchiveFS) Write(path string, data []byte) error {
	return a.oneShot(func(sess *Session) error {
		stack, leaf, err := sess.resolve(path, resolver.Create)
		if err != nil {
			return err
		}
		if stack.Innermost() == nil {
			if err := localfs.MkdirAll(stack.PhysicalDir, 0o755); err != nil {
				return translateErr(err, path)
			}
			return stagePhysicalWrite(stack, leaf, data)
		}
		stageWrite(stack, leaf, entry.ContentSource{Tag: entry.SourceOverlay, OverlayBytes: data}, int64(len(data)))
		return nil
	})
}

// WriteText overwrites path with text, encoded as UTF-8.
func (a *ArchiveFS) WriteText(path, text string) error {
	return a.Write(path, []byte(text))
}

// Append reads path's current content (treating a missing file as empty),
// appends data, and writes the result back through the same staged
// overlay, so a reader inside the same session observes the appended
// bytes without any commit having happened yet.
func (a *ArchiveFS) Append(path string, data []byte) error {
	return a.oneShot(func(sess *Session) error {
		existing, err := readOptional(sess, path)
		if err != nil {
			return err
		}
		stack, leaf, err := sess.resolve(path, resolver.Create)
		if err != nil {
			return err
		}
		combined := append(existing, data...)
		if stack.Innermost() == nil {
			if err := localfs.MkdirAll(stack.PhysicalDir, 0o755); err != nil {
				return translateErr(err, path)
			}
			return stagePhysicalWrite(stack, leaf, combined)
		}
		stageWrite(stack, leaf, entry.ContentSource{Tag: entry.SourceOverlay, OverlayBytes: combined}, int64(len(combined)))
		return nil
	})
}

// AppendText is Append for UTF-8 text.
func (a *ArchiveFS) AppendText(path, text string) error {
	return a.Append(path, []byte(text))
}

func readOptional(sess *Session, path string) ([]byte, error) {
	rc, err := readEntry(sess, path)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, translateErr(err, path)
	}
	return data, nil
}

// Exists reports whether path resolves to a live entry or real file,
// swallowing every error other than existence.
func (a *ArchiveFS) Exists(path string) bool {
	sess := newSession(a)
	defer sess.discard()
	stack, leaf, err := sess.resolve(path, resolver.Read)
	if err != nil {
		return false
	}
	inner := stack.Innermost()
	if inner == nil {
		return localfs.Exists(filepath.Join(stack.PhysicalDir, leaf))
	}
	if _, ok := inner.Store.Get(leaf); ok {
		return true
	}
	return inner.Store.HasPrefixDir(leaf)
}

// Remove tombstones the file entry at path. It errors if path names a
// directory; use Rmdir for that.
func (a *ArchiveFS) Remove(path string) error {
	return a.oneShot(func(sess *Session) error {
		stack, leaf, err := sess.resolve(path, resolver.Write)
		if err != nil {
			return err
		}
		inner := stack.Innermost()
		if inner == nil {
			fi, err := localfs.Stat(filepath.Join(stack.PhysicalDir, leaf))
			if err != nil {
				return newError(NotFound, path, err)
			}
			if fi.IsDir() {
				return newError(IsADirectory, path, nil)
			}
			return translateErr(localfs.Remove(filepath.Join(stack.PhysicalDir, leaf)), path)
		}
		e, ok := inner.Store.Get(leaf)
		if !ok {
			return newError(NotFound, path, nil)
		}
		if e.Kind != entry.KindFile {
			return newError(IsADirectory, path, nil)
		}
		inner.Store.Delete(leaf)
		stack.MarkDirty(len(stack.Handles) - 1)
		return nil
	})
}

// Copy streams src into dst, preserving src's modification time on dst on
// a best-effort basis.
func (a *ArchiveFS) Copy(src, dst string) error {
	info, err := a.GetInfo(src)
	if err != nil {
		return err
	}
	data, err := a.Read(src)
	if err != nil {
		return err
	}
	return a.oneShot(func(sess *Session) error {
		if err := sess.Write(dst, data); err != nil {
			return err
		}
		stack, leaf, err := sess.resolve(dst, resolver.Write)
		if err != nil {
			return err
		}
		if inner := stack.Innermost(); inner != nil {
			if e, ok := inner.Store.Get(leaf); ok {
				e.ModTime = info.Modified
			}
			return nil
		}
		_ = os.Chtimes(filepath.Join(stack.PhysicalDir, leaf), info.Modified, info.Modified)
		return nil
	})
}

// Move copies src to dst and then removes src; both sides' Sessions
// commit independently.
func (a *ArchiveFS) Move(src, dst string) error {
	if err := a.Copy(src, dst); err != nil {
		return err
	}
	return a.Remove(src)
}

// Mkdir stages a directory entry at path. For archive formats without an
// explicit directory concept, this is recorded as a zero-byte "name/"
// entry per the Entry Store's convention. createParents fills in missing
// intermediate archives and directory entries the way Write does for
// files.
func (a *ArchiveFS) Mkdir(path string, createParents bool) error {
	return a.oneShot(func(sess *Session) error {
		mode := resolver.Write
		if createParents {
			mode = resolver.Create
		}
		stack, leaf, err := sess.resolve(path, mode)
		if err != nil {
			return err
		}
		inner := stack.Innermost()
		if inner == nil {
			target := filepath.Join(stack.PhysicalDir, leaf)
			if createParents {
				return translateErr(localfs.MkdirAll(target, 0o755), path)
			}
			if localfs.Exists(target) {
				return newError(AlreadyExists, path, nil)
			}
			return translateErr(localfs.MkdirAll(target, 0o755), path)
		}
		if e, ok := inner.Store.Get(leaf); ok {
			if e.Kind == entry.KindDir && createParents {
				return nil
			}
			return newError(AlreadyExists, path, nil)
		}
		inner.Store.Put(&entry.Entry{Name: leaf, Kind: entry.KindDir})
		stack.MarkDirty(len(stack.Handles) - 1)
		return nil
	})
}

// Rmdir removes the directory entry at path, refusing to do so unless it
// is empty or recursive is set.
func (a *ArchiveFS) Rmdir(path string, recursive bool) error {
	return a.oneShot(func(sess *Session) error {
		stack, leaf, err := sess.resolve(path, resolver.Write)
		if err != nil {
			return err
		}
		inner := stack.Innermost()
		if inner == nil {
			target := filepath.Join(stack.PhysicalDir, leaf)
			return translateErr(localfs.RemoveDir(target, recursive), path)
		}
		e, ok := inner.Store.Get(leaf)
		hasChildren := inner.Store.HasPrefixDir(leaf)
		if !ok && !hasChildren {
			return newError(NotFound, path, nil)
		}
		if ok && e.Kind == entry.KindFile {
			return newError(NotADirectory, path, nil)
		}
		if hasChildren && !recursive {
			return newError(StateError, path, fmt.Errorf("directory not empty"))
		}
		if hasChildren {
			for _, e := range inner.Store.IterLive() {
				if strings.HasPrefix(e.Name, leaf+"/") {
					inner.Store.Delete(e.Name)
				}
			}
		}
		if ok {
			inner.Store.Delete(leaf)
		}
		stack.MarkDirty(len(stack.Handles) - 1)
		return nil
	})
}

// ListDir returns path's immediate child names, excluding tombstones and
// including directories inferred from nested entries.
func (a *ArchiveFS) ListDir(path string) ([]string, error) {
	sess := newSession(a)
	defer sess.discard()
	stack, err := sess.resolveWhole(path, resolver.Read)
	if err != nil {
		return nil, err
	}
	inner := stack.Innermost()
	if inner == nil {
		return listPhysicalDir(joinLeaf(stack))
	}
	return inner.Store.Children(stack.LeafName), nil
}

func joinLeaf(stack *resolver.Stack) string {
	if stack.PhysicalDir == "" {
		return stack.Root
	}
	return filepath.Join(stack.PhysicalDir, stack.LeafName)
}

func listPhysicalDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, translateErr(err, dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// WalkEntry is one directory yielded by Walk: its path, subdirectory
// names, and file names, in entry insertion order.
type WalkEntry struct {
	Dir     string
	SubDirs []string
	Files   []string
}

// Walk visits path and every directory beneath it inside the same
// container, deterministic order matching entry insertion order.
func (a *ArchiveFS) Walk(path string) ([]WalkEntry, error) {
	sess := newSession(a)
	defer sess.discard()
	stack, err := sess.resolveWhole(path, resolver.Read)
	if err != nil {
		return nil, err
	}
	inner := stack.Innermost()
	if inner == nil {
		return walkPhysical(joinLeaf(stack))
	}
	return walkStore(inner, stack.LeafName), nil
}

func walkStore(h *resolver.Handle, prefix string) []WalkEntry {
	dirs := map[string]*WalkEntry{"": {Dir: ""}}
	order := []string{""}
	ensure := func(dir string) *WalkEntry {
		if w, ok := dirs[dir]; ok {
			return w
		}
		w := &WalkEntry{Dir: dir}
		dirs[dir] = w
		order = append(order, dir)
		return w
	}
	for _, e := range h.Store.IterLive() {
		name := e.Name
		if prefix != "" {
			if !strings.HasPrefix(name, prefix+"/") {
				continue
			}
			name = strings.TrimPrefix(name, prefix+"/")
		}
		dir, base := splitDir(name)
		ensure(dir)
		if e.Kind == entry.KindDir {
			ensure(name)
			w := dirs[dir]
			w.SubDirs = appendUnique(w.SubDirs, base)
		} else {
			w := dirs[dir]
			w.Files = append(w.Files, base)
		}
	}
	out := make([]WalkEntry, 0, len(order))
	for _, d := range order {
		out = append(out, *dirs[d])
	}
	return out
}

func splitDir(name string) (dir, base string) {
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

func appendUnique(ss []string, s string) []string {
	for _, existing := range ss {
		if existing == s {
			return ss
		}
	}
	return append(ss, s)
}

func walkPhysical(root string) ([]WalkEntry, error) {
	var out []WalkEntry
	err := filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		entries, err := os.ReadDir(p)
		if err != nil {
			return err
		}
		we := WalkEntry{Dir: filepath.ToSlash(rel)}
		for _, e := range entries {
			if e.IsDir() {
				we.SubDirs = append(we.SubDirs, e.Name())
			} else {
				we.Files = append(we.Files, e.Name())
			}
		}
		out = append(out, we)
		return nil
	})
	if err != nil {
		return nil, translateErr(err, root)
	}
	return out, nil
}

// Info describes one entry or physical file's metadata, per get_info's
// {size, modified, kind, permissions?} contract.
type Info struct {
	Size        int64
	Modified    time.Time
	Kind        entry.Kind
	Permissions uint32
	HasPerms    bool
}

// GetInfo returns path's metadata.
func (a *ArchiveFS) GetInfo(path string) (Info, error) {
	sess := newSession(a)
	defer sess.discard()
	stack, leaf, err := sess.resolve(path, resolver.Read)
	if err != nil {
		return Info{}, err
	}
	inner := stack.Innermost()
	if inner == nil {
		fi, err := localfs.Stat(filepath.Join(stack.PhysicalDir, leaf))
		if err != nil {
			return Info{}, newError(NotFound, path, err)
		}
		kind := entry.KindFile
		if fi.IsDir() {
			kind = entry.KindDir
		}
		return Info{Size: fi.Size(), Modified: fi.ModTime(), Kind: kind, Permissions: uint32(fi.Mode().Perm()), HasPerms: true}, nil
	}
	e, ok := inner.Store.Get(leaf)
	if !ok {
		return Info{}, newError(NotFound, path, nil)
	}
	return Info{Size: e.Size, Modified: e.ModTime, Kind: e.Kind, Permissions: e.Mode, HasPerms: e.HasMode}, nil
}

// CreateArchive stages an empty archive at path. The format is chosen from
// path's extension by the registry; there is no parameter to choose it
// explicitly.
func (a *ArchiveFS) CreateArchive(path string) error {
	return a.oneShot(func(sess *Session) error {
		_, err := sess.resolveWhole(path, resolver.Create)
		return err
	})
}

// CreateArchiveFromDir stages path as a fresh archive populated by walking
// sourceDir: every file becomes an entry named by its path relative to
// sourceDir, and every empty directory becomes an explicit KindDir entry
// so it survives round-tripping. exclude holds doublestar glob patterns
// (see internal/cliutil) matched against each entry's relative path; a
// match skips the entry and, for a directory, its entire subtree. The
// whole walk runs inside one Session, so the archive is rebuilt exactly
// once no matter how many files it imports.
func (a *ArchiveFS) CreateArchiveFromDir(path, sourceDir string, exclude []string) error {
	return a.oneShot(func(sess *Session) error {
		if _, err := sess.resolveWhole(path, resolver.Create); err != nil {
			return err
		}
		opts := cliutil.WalkOptions{Exclude: exclude, Logger: a.config.Logger}
		return cliutil.WalkForImport(sourceDir, opts, func(ent cliutil.ImportEntry) error {
			target := path + "/" + ent.RelPath
			if ent.Info.IsDir() {
				return sess.mkdirEntry(target)
			}
			data, err := os.ReadFile(ent.AbsPath)
			if err != nil {
				return fmt.Errorf("arcfs: read %q: %w", ent.AbsPath, err)
			}
			return sess.Write(target, data)
		})
	})
}

// ExtractToDir writes every live entry inside the archive named by path
// onto the real filesystem under destDir, the reverse of
// CreateArchiveFromDir: file entries become ordinary files, directory
// entries become directories, and TAR symlink entries are recreated with
// os.Symlink. Permission bits follow gotgz's own extractToLocal policy: an
// entry's own Mode when it carries one (HasMode), otherwise a sane
// default, always masked against the process's current umask so a
// caller ends up with the same access an ordinary untar would give them.
func (a *ArchiveFS) ExtractToDir(path, destDir string) error {
	sess := newSession(a)
	defer sess.discard()
	stack, err := sess.resolveWhole(path, resolver.Read)
	if err != nil {
		return err
	}
	inner := stack.Innermost()
	if inner == nil {
		return newError(InvalidPath, path, fmt.Errorf("path does not name an archive"))
	}
	umask := localfs.CurrentUmask()
	for _, e := range inner.Store.IterLive() {
		target := filepath.Join(destDir, filepath.FromSlash(e.Name))
		if err := extractOne(inner, e, target, umask); err != nil {
			return translateErr(err, path)
		}
	}
	return nil
}

// extractOne materializes a single entry at target, normalizing whatever
// permission bits it does or doesn't carry against umask.
func extractOne(inner *resolver.Handle, e *entry.Entry, target string, umask fs.FileMode) error {
	switch e.Kind {
	case entry.KindDir:
		return localfs.MkdirAll(target, extractMode(e, 0o777, umask))
	case entry.KindSymlink:
		if err := localfs.MkdirAll(filepath.Dir(target), 0o755&^umask); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(e.LinkTarget, target)
	default:
		if err := localfs.MkdirAll(filepath.Dir(target), 0o755&^umask); err != nil {
			return err
		}
		rc, err := openLiveEntry(inner, e)
		if err != nil {
			return err
		}
		defer rc.Close()
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, extractMode(e, 0o666, umask).Perm())
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, rc)
		return err
	}
}

// extractMode returns e's own mode when it has one, otherwise base, always
// masked against umask the way an ordinary file creation would be.
func extractMode(e *entry.Entry, base fs.FileMode, umask fs.FileMode) fs.FileMode {
	mode := base
	if e.HasMode {
		mode = fs.FileMode(e.Mode)
	}
	return mode &^ umask
}

// mkdirEntry stages an explicit directory entry at path, used by
// CreateArchiveFromDir to preserve empty directories that no file entry
// would otherwise imply.
func (s *Session) mkdirEntry(path string) error {
	stack, leaf, err := s.resolve(path, resolver.Create)
	if err != nil {
		return err
	}
	inner := stack.Innermost()
	if inner == nil {
		return translateErr(localfs.MkdirAll(filepath.Join(stack.PhysicalDir, leaf), 0o755), path)
	}
	if _, ok := inner.Store.Get(leaf); ok {
		return nil
	}
	inner.Store.Put(&entry.Entry{Name: leaf, Kind: entry.KindDir})
	stack.MarkDirty(len(stack.Handles) - 1)
	return nil
}

// BatchSession opens a Session for scoped multi-operation use. Callers end
// it with Commit or Discard; a common pattern is `defer sess.Discard()`
// right after BatchSession returns, since Discard after Commit is a no-op.
func (a *ArchiveFS) BatchSession() *Session {
	return newSession(a)
}

// Commit rebuilds every dirty Stack the Session touched and releases its
// Handles. Safe to call at most once.
func (s *Session) Commit() error { return s.commit() }

// Discard releases every Handle the Session opened without committing.
// Safe to call at most once; calling it after Commit is a no-op.
func (s *Session) Discard() { s.discard() }

// Read performs a read through the Session's cached Stacks, observing any
// of the Session's own prior writes to the same container.
func (s *Session) Read(path string) ([]byte, error) {
	rc, err := readEntry(s, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, translateErr(err, path)
	}
	return data, nil
}

// Write stages an overwrite through the Session, deferring commit until
// the Session ends.
func (s *Session) Write(path string, data []byte) error {
	stack, leaf, err := s.resolve(path, resolver.Create)
	if err != nil {
		return err
	}
	if stack.Innermost() == nil {
		if err := localfs.MkdirAll(stack.PhysicalDir, 0o755); err != nil {
			return translateErr(err, path)
		}
		return stagePhysicalWrite(stack, leaf, data)
	}
	stageWrite(stack, leaf, entry.ContentSource{Tag: entry.SourceOverlay, OverlayBytes: data}, int64(len(data)))
	return nil
}

// Remove tombstones a file entry through the Session.
func (s *Session) Remove(path string) error {
	stack, leaf, err := s.resolve(path, resolver.Write)
	if err != nil {
		return err
	}
	inner := stack.Innermost()
	if inner == nil {
		return translateErr(localfs.Remove(filepath.Join(stack.PhysicalDir, leaf)), path)
	}
	if _, ok := inner.Store.Get(leaf); !ok {
		return newError(NotFound, path, nil)
	}
	inner.Store.Delete(leaf)
	stack.MarkDirty(len(stack.Handles) - 1)
	return nil
}

// Transaction opens a Transaction spanning the given outer paths: every
// Session operation performed through Transaction.Session() commits
// atomically across all of them, or none at all. If paths is non-empty,
// every operation performed through the Transaction's Session must resolve
// to one of them (or a path nested under one); resolving anything else
// fails with InvalidPath rather than silently widening the transaction's
// scope. Passing no paths leaves the scope inferred from whatever the
// Session ends up touching.
func (a *ArchiveFS) Transaction(paths ...string) *Transaction {
	return newTransaction(a, paths)
}

// Commit rebuilds and atomically renames every dirty outer file the
// Transaction's Session touched. If any single item fails to rebuild, no
// target file is modified.
func (t *Transaction) Commit() error { return t.commit() }

// Discard releases every Handle the Transaction's Session opened without
// committing any of them.
func (t *Transaction) Discard() { t.discard() }

// IsNotFound reports whether err is (or wraps) a NotFound error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == NotFound
}
