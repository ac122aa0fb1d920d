// Package handler defines the Archive Handler Abstraction: a uniform
// read/write/enumerate contract satisfied by each concrete container
// format (ZIP, TAR, and the codec-only "single-entry" containers).
package handler

import (
	"io"

	"github.com/Munger/arcfs/internal/entry"
)

// Capabilities reports what a format implementation supports.
type Capabilities struct {
	RandomRead     bool
	AppendInPlace  bool // always false for every format this system supports
	SingleEntry    bool // true for codec-single containers
}

// Handler is the contract every per-format implementation satisfies.
// Load populates an Entry Store from a freshly opened backing stream.
// OpenEntryRead returns a stream over one entry's decoded bytes, read
// through the *current* handler (so Serialize on a fresh handler can pull
// InOriginal bytes from the handler that still has them). Serialize writes
// a complete fresh archive containing exactly the given entries, in order.
type Handler interface {
	// Load reads the archive's structure (central directory, header scan,
	// ...) and returns a populated Entry Store. The built-in handlers read
	// the whole backing stream into memory here (codec-based ones decode it
	// in full); InOriginal content sources reference the bytes this handler
	// retains for later OpenEntryRead calls.
	Load(r io.ReadCloser) (*entry.Store, error)

	// OpenEntryRead returns a readable stream over e's decoded content.
	// For InOriginal entries this seeks/scans the handler's own backing
	// stream; for InOverlay entries it is the caller's responsibility to
	// read the overlay directly (Handler only ever serves original
	// content this way).
	OpenEntryRead(e *entry.Entry) (io.ReadCloser, error)

	// Serialize writes a fresh archive containing entries (in the given
	// order) to w. Content sources of any variant are accepted; original
	// bytes are pulled via OpenEntryRead of the receiver, not of any new
	// handler.
	Serialize(w io.Writer, entries []*entry.Entry) error

	// Capabilities reports this format's structural properties.
	Capabilities() Capabilities

	// Close releases the handler's hold on its backing stream. Safe to
	// call multiple times.
	Close() error
}

// SingleEntryNamer is implemented by handlers whose Capabilities().SingleEntry
// is true. When a path resolves to the archive itself rather than to a
// segment inside it, this reports the one entry name a write should stage
// under, since such an archive has no user-chosen entry name to fall back
// on.
type SingleEntryNamer interface {
	SingleEntryName() string
}

// Factory constructs a fresh, unopened Handler for one archive segment.
// name is the segment's filename as matched against the registry (its
// full path component, not just the extension) — codec-single handlers
// need it to derive the synthetic entry name by stripping the codec
// extension; format handlers with no such need simply ignore it.
// Registered in internal/registry keyed by file extension.
type Factory func(name string) Handler
