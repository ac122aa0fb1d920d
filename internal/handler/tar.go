package handler

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"

	"github.com/Munger/arcfs/internal/entry"
)

// TarHandler implements Handler over the TAR format via the standard
// library's archive/tar. TAR carries no index, so Load performs a full
// sequential scan recording each member's offset for later random access;
// long names beyond the 100-byte classic field are handled transparently
// by archive/tar's GNU/PAX long-name extension support.
type TarHandler struct {
	BufferSize int

	src io.ReadCloser
	raw []byte
}

// NewTar constructs an unopened TAR handler with the default I/O chunk
// size.
func NewTar() Handler { return &TarHandler{} }

// NewTarSized constructs an unopened TAR handler whose full-archive read
// and per-entry content copy use bufSize-chunked I/O.
func NewTarSized(bufSize int) Handler { return &TarHandler{BufferSize: bufSize} }

// Load performs the one full sequential scan TAR's format forces, but
// records each member's content offset into h.raw as it goes so
// OpenEntryRead can slice directly instead of re-scanning.
func (h *TarHandler) Load(r io.ReadCloser) (*entry.Store, error) {
	h.src = r
	raw, err := io.ReadAll(bufReader(r, h.BufferSize))
	if err != nil {
		return nil, fmt.Errorf("tar: read archive: %w", err)
	}
	h.raw = raw

	store := entry.NewStore()
	br := bytes.NewReader(raw)
	tr := tar.NewReader(br)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		offset := br.Size() - int64(br.Len())
		name, ok := entry.Normalize(hdr.Name)
		if !ok || name == "" {
			continue
		}
		kind := tarKind(hdr)
		store.Put(&entry.Entry{
			Name:       name,
			Kind:       kind,
			Size:       hdr.Size,
			ModTime:    hdr.ModTime,
			Mode:       uint32(hdr.Mode),
			HasMode:    true,
			LinkTarget: hdr.Linkname,
			Source: entry.ContentSource{
				Tag:    entry.SourceOriginal,
				Offset: offset,
			},
		})
	}
	return store, nil
}

func tarKind(hdr *tar.Header) entry.Kind {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return entry.KindDir
	case tar.TypeSymlink, tar.TypeLink:
		return entry.KindSymlink
	default:
		return entry.KindFile
	}
}

// OpenEntryRead slices e's content directly out of h.raw at the offset
// Load recorded, rather than re-scanning the archive.
func (h *TarHandler) OpenEntryRead(e *entry.Entry) (io.ReadCloser, error) {
	if h.raw == nil {
		return nil, fmt.Errorf("tar: handler not loaded")
	}
	if e.Source.Tag != entry.SourceOriginal {
		return nil, fmt.Errorf("tar: entry %q has no original content", e.Name)
	}
	start := e.Source.Offset
	end := start + e.Size
	if start < 0 || end < start || end > int64(len(h.raw)) {
		return nil, fmt.Errorf("tar: entry %q offset out of range", e.Name)
	}
	return io.NopCloser(bytes.NewReader(h.raw[start:end])), nil
}

func (h *TarHandler) Serialize(w io.Writer, entries []*entry.Entry) error {
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.Name,
			ModTime: e.ModTime,
			Mode:    int64(modeOrDefault(e, 0o644)),
		}

		var src io.ReadCloser
		if e.Kind == entry.KindFile {
			var err error
			src, err = openContentSource(h, e)
			if err != nil {
				return fmt.Errorf("tar: open content %q: %w", e.Name, err)
			}
		}

		switch e.Kind {
		case entry.KindDir:
			hdr.Typeflag = tar.TypeDir
			hdr.Name = ensureTrailingSlash(hdr.Name)
			hdr.Mode = int64(modeOrDefault(e, 0o755))
		case entry.KindSymlink:
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.LinkTarget
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = e.Size
		}

		if err := tw.WriteHeader(hdr); err != nil {
			if src != nil {
				src.Close()
			}
			return fmt.Errorf("tar: write header %q: %w", e.Name, err)
		}
		if src == nil {
			continue
		}

		_, err := copyBuffered(tw, src, h.BufferSize)
		cerr := src.Close()
		if err != nil {
			return fmt.Errorf("tar: write content %q: %w", e.Name, err)
		}
		if cerr != nil {
			return fmt.Errorf("tar: close content %q: %w", e.Name, cerr)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar: finalize: %w", err)
	}
	return nil
}

func (h *TarHandler) Capabilities() Capabilities {
	return Capabilities{RandomRead: true, AppendInPlace: false}
}

func (h *TarHandler) Close() error {
	if h.src == nil {
		return nil
	}
	err := h.src.Close()
	h.src = nil
	return err
}

func ensureTrailingSlash(name string) string {
	if len(name) == 0 || name[len(name)-1] == '/' {
		return name
	}
	return name + "/"
}
