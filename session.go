package arcfs

import (
	"fmt"
	"strings"

	"github.com/Munger/arcfs/internal/entry"
	"github.com/Munger/arcfs/internal/handler"
	"github.com/Munger/arcfs/internal/rebuild"
	"github.com/Munger/arcfs/internal/resolver"
)

// Session is a scoped deferral of commits: while active, every operation
// resolves through a shared Handle cache, so repeated writes into the same
// container reuse one open archive and see each other's staged overlays,
// and nothing is written back to disk until the Session commits.
type Session struct {
	fs *ArchiveFS

	// handles backs the resolver.HandleCache Session implements: every
	// archive Handle opened or created during this Session, keyed by its
	// ContainerKey, so any two resolutions reaching the same container
	// share one Store.
	handles map[string]*resolver.Handle

	// roots collects one representative Stack per distinct innermost
	// container touched, so commit rebuilds each exactly once. Keyed by
	// the innermost Handle's pointer identity; entries with no Handles
	// (pure physical writes) are never added here since those commit
	// synchronously at write time.
	roots      map[string]*resolver.Stack
	rootsOrder []string

	// scope restricts which composite paths this Session may resolve. nil
	// means unrestricted (BatchSession, oneShot); Transaction sets it to
	// the outer paths its caller declared, and every resolution outside
	// that set fails rather than silently widening the transaction.
	scope []string

	done bool
}

func newSession(fs *ArchiveFS) *Session {
	return &Session{
		fs:      fs,
		handles: make(map[string]*resolver.Handle),
		roots:   make(map[string]*resolver.Stack),
	}
}

// inScope reports whether path is exactly one of scope's declared targets or
// nested under one of them. A nil scope permits everything.
func inScope(scope []string, path string) bool {
	if scope == nil {
		return true
	}
	norm, ok := entry.Normalize(path)
	if !ok {
		return false
	}
	for _, p := range scope {
		pn, ok := entry.Normalize(p)
		if !ok {
			continue
		}
		if norm == pn || strings.HasPrefix(norm, pn+"/") {
			return true
		}
	}
	return false
}

// Get implements resolver.HandleCache.
func (s *Session) Get(key string) (*resolver.Handle, bool) {
	h, ok := s.handles[key]
	return h, ok
}

// Put implements resolver.HandleCache.
func (s *Session) Put(key string, h *resolver.Handle) {
	s.handles[key] = h
}

func (s *Session) trackRoot(stack *resolver.Stack) {
	inner := stack.Innermost()
	if inner == nil {
		return
	}
	key := fmt.Sprintf("%p", inner)
	if _, ok := s.roots[key]; ok {
		return
	}
	s.roots[key] = stack
	s.rootsOrder = append(s.rootsOrder, key)
}

// resolveStack resolves path in full against the Session's shared Handle
// cache and records its innermost container for eventual commit.
func (s *Session) resolveStack(path string, mode resolver.Mode) (*resolver.Stack, error) {
	if !inScope(s.scope, path) {
		return nil, newError(InvalidPath, path, fmt.Errorf("path is outside the transaction's declared targets"))
	}
	root, rel := s.fs.splitPath(path)
	stack, err := s.fs.resolver.ResolveCached(root, rel, mode, s)
	if err != nil {
		return nil, translateErr(err, path)
	}
	s.trackRoot(stack)
	return stack, nil
}

// resolve resolves path and reports the entry name a caller should
// Get/Put inside the returned Stack's innermost Store (or the filename
// inside PhysicalDir, when the path never crossed an archive boundary).
//
// A path that names an archive itself, with nothing after it, has no such
// name in the ordinary sense: resolveStack reports it via an empty
// LeafName with a non-nil Innermost(). That is only addressable for
// formats with exactly one entry (codec-single containers), whose Handler
// reports the name to use via handler.SingleEntryNamer; any other format
// in that shape is a usage error, since there is no way to choose which
// of its several entries a bare write or read would mean.
func (s *Session) resolve(path string, mode resolver.Mode) (*resolver.Stack, string, error) {
	stack, err := s.resolveStack(path, mode)
	if err != nil {
		return nil, "", err
	}
	leaf := stack.LeafName
	if inner := stack.Innermost(); inner != nil && leaf == "" {
		namer, ok := inner.Handler.(handler.SingleEntryNamer)
		if !ok {
			return nil, "", newError(InvalidPath, path, fmt.Errorf("path names a multi-entry archive; specify an entry inside it"))
		}
		leaf = namer.SingleEntryName()
	}
	return stack, leaf, nil
}

// resolveWhole resolves path in full, treating the entire path as the
// target rather than looking up a leaf entry name inside it. Used by
// operations that address an archive or directory as a whole (ListDir,
// Walk, CreateArchive, CreateArchiveFromDir, ExtractToDir).
func (s *Session) resolveWhole(path string, mode resolver.Mode) (*resolver.Stack, error) {
	return s.resolveStack(path, mode)
}

// commit rebuilds every distinct container the session touched, innermost
// to outermost, and releases every Handle it opened.
func (s *Session) commit() error {
	if s.done {
		return newError(StateError, "", nil)
	}
	s.done = true
	for _, key := range s.rootsOrder {
		stack := s.roots[key]
		if err := rebuild.Commit(stack, s.fs.config.GlobalBufferSize, s.fs.config.TempDir, s.fs.config.Logger); err != nil {
			s.closeAll()
			return translateErr(err, "")
		}
	}
	s.closeAll()
	return nil
}

// discard releases every Handle the session opened without committing any
// staged overlay.
func (s *Session) discard() {
	if s.done {
		return
	}
	s.done = true
	s.closeAll()
}

func (s *Session) closeAll() {
	for _, h := range s.handles {
		h.Handler.Close()
	}
}

// Transaction wraps a single Session and pools its distinct containers'
// commits into one all-or-nothing rename batch, so a failure partway
// through leaves every one of them untouched.
type Transaction struct {
	fs   *ArchiveFS
	sess *Session
	done bool
}

// newTransaction builds a Transaction whose Session only ever resolves
// paths within paths (or unrestricted, when paths is empty).
func newTransaction(fs *ArchiveFS, paths []string) *Transaction {
	sess := newSession(fs)
	if len(paths) > 0 {
		sess.scope = paths
	}
	return &Transaction{fs: fs, sess: sess}
}

// Session exposes the Transaction's underlying Session so callers can
// perform the same read/write operations they would inside a plain
// BatchSession.
func (t *Transaction) Session() *Session { return t.sess }

func (t *Transaction) commit() error {
	if t.done {
		return newError(StateError, "", nil)
	}
	t.done = true
	items := make([]rebuild.Item, 0, len(t.sess.rootsOrder))
	for _, key := range t.sess.rootsOrder {
		items = append(items, rebuild.Item{Stack: t.sess.roots[key]})
	}
	err := rebuild.CommitTransaction(items, t.fs.config.GlobalBufferSize, t.fs.config.TempDir, t.fs.config.Logger)
	t.sess.closeAll()
	if err != nil {
		return translateErr(err, "")
	}
	return nil
}

func (t *Transaction) discard() {
	if t.done {
		return
	}
	t.done = true
	t.sess.discard()
}
