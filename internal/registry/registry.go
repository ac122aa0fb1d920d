// Package registry implements the Handler Registry: extension-to-handler
// lookup with longest-match, case-insensitive semantics and user
// overrides that shadow the built-in defaults.
package registry

import (
	"strings"

	"github.com/Munger/arcfs/internal/handler"
)

// Registry maps file extensions to handler factories. It is copy-on-write
// per owning ArchiveFS instance: cloning a Registry never mutates the
// parent's entries.
type Registry struct {
	entries map[string]handler.Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]handler.Factory)}
}

// Clone returns a copy of r whose Register calls do not affect r.
func (r *Registry) Clone() *Registry {
	out := New()
	for k, v := range r.entries {
		out.entries[k] = v
	}
	return out
}

// Register associates ext (case-insensitive, with leading dot, may be
// multi-part like ".tar.gz") with factory. A later Register call for the
// same extension shadows the earlier one — this is how user registrations
// override defaults.
func (r *Registry) Register(ext string, factory handler.Factory) {
	r.entries[strings.ToLower(ext)] = factory
}

// Lookup finds the longest registered extension suffix of filename and
// returns its factory. ".tar.gz" beats ".gz" when both are registered and
// filename ends in ".tar.gz".
func (r *Registry) Lookup(filename string) (handler.Factory, string, bool) {
	lower := strings.ToLower(filename)
	var bestExt string
	var bestFactory handler.Factory
	found := false
	for ext, factory := range r.entries {
		if strings.HasSuffix(lower, ext) && len(ext) > len(bestExt) {
			bestExt = ext
			bestFactory = factory
			found = true
		}
	}
	return bestFactory, bestExt, found
}

// Extensions returns the set of registered extensions, for diagnostics and
// tests.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.entries))
	for ext := range r.entries {
		out = append(out, ext)
	}
	return out
}
