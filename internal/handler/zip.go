package handler

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Munger/arcfs/internal/entry"
)

// ZipHandler implements Handler over the ZIP format via the standard
// library's archive/zip: central directory at end-of-file, per-entry
// compression method (store or deflate), DOS-format modification times
// (2-second resolution — a known lossy normalization on rebuild).
type ZipHandler struct {
	BufferSize int

	src io.ReadCloser
	rd  *zip.Reader
	raw []byte // whole-archive bytes, needed because archive/zip requires io.ReaderAt
}

// NewZip constructs an unopened ZIP handler with the default I/O chunk
// size.
func NewZip() Handler { return &ZipHandler{} }

// NewZipSized constructs an unopened ZIP handler whose full-archive read
// and per-entry content copy use bufSize-chunked I/O.
func NewZipSized(bufSize int) Handler { return &ZipHandler{BufferSize: bufSize} }

func (z *ZipHandler) Load(r io.ReadCloser) (*entry.Store, error) {
	z.src = r
	raw, err := io.ReadAll(bufReader(r, z.BufferSize))
	if err != nil {
		return nil, fmt.Errorf("zip: read archive: %w", err)
	}
	z.raw = raw

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}
	z.rd = zr

	store := entry.NewStore()
	for _, f := range zr.File {
		name, ok := entry.Normalize(f.Name)
		if !ok || name == "" {
			continue
		}
		kind := entry.KindFile
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			kind = entry.KindDir
		}
		store.Put(&entry.Entry{
			Name:    name,
			Kind:    kind,
			Size:    int64(f.UncompressedSize64),
			ModTime: f.Modified,
			Mode:    uint32(f.Mode().Perm()),
			HasMode: true,
			Source: entry.ContentSource{
				Tag:            entry.SourceOriginal,
				CompressedSize: int64(f.CompressedSize64),
				Method:         f.Method,
			},
		})
	}
	return store, nil
}

func (z *ZipHandler) OpenEntryRead(e *entry.Entry) (io.ReadCloser, error) {
	if z.rd == nil {
		return nil, fmt.Errorf("zip: handler not loaded")
	}
	for _, f := range z.rd.File {
		name, ok := entry.Normalize(f.Name)
		if !ok {
			continue
		}
		if name == e.Name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("zip: entry %q not found in original archive", e.Name)
}

func (z *ZipHandler) Serialize(w io.Writer, entries []*entry.Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		name := e.Name
		modTime := e.ModTime
		if modTime.Before(zipEpoch) {
			modTime = zipEpoch
		}

		if e.Kind == entry.KindDir {
			if !strings.HasSuffix(name, "/") {
				name += "/"
			}
			hdr := &zip.FileHeader{Name: name, Modified: modTime}
			hdr.SetMode(os.FileMode(modeOrDefault(e, 0o755)) | os.ModeDir)
			if _, err := zw.CreateHeader(hdr); err != nil {
				return fmt.Errorf("zip: write dir %q: %w", name, err)
			}
			continue
		}

		hdr := &zip.FileHeader{Name: name, Modified: modTime, Method: zip.Deflate}
		hdr.SetMode(os.FileMode(modeOrDefault(e, 0o644)))
		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: write header %q: %w", name, err)
		}

		src, err := openContentSource(z, e)
		if err != nil {
			return fmt.Errorf("zip: open content %q: %w", name, err)
		}
		if _, err := copyBuffered(dst, src, z.BufferSize); err != nil {
			src.Close()
			return fmt.Errorf("zip: write content %q: %w", name, err)
		}
		if err := src.Close(); err != nil {
			return fmt.Errorf("zip: close content %q: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip: finalize: %w", err)
	}
	return nil
}

func (z *ZipHandler) Capabilities() Capabilities {
	return Capabilities{RandomRead: true, AppendInPlace: false}
}

func (z *ZipHandler) Close() error {
	if z.src == nil {
		return nil
	}
	err := z.src.Close()
	z.src = nil
	return err
}

func modeOrDefault(e *entry.Entry, def uint32) uint32 {
	if e.HasMode {
		return e.Mode
	}
	return def
}

// openContentSource resolves an Entry's bytes regardless of variant: for
// InOriginal it pulls from the *current* handler h (not any new one, per
// the Serialize contract); for InOverlay it reads the staged bytes or temp
// file.
func openContentSource(h Handler, e *entry.Entry) (io.ReadCloser, error) {
	switch e.Source.Tag {
	case entry.SourceOriginal:
		return h.OpenEntryRead(e)
	case entry.SourceOverlay:
		return openOverlay(e)
	default:
		return nil, fmt.Errorf("entry %q has no readable content source", e.Name)
	}
}

func openOverlay(e *entry.Entry) (io.ReadCloser, error) {
	if e.Source.OverlayPath != "" {
		return openTempFile(e.Source.OverlayPath)
	}
	return io.NopCloser(bytes.NewReader(e.Source.OverlayBytes)), nil
}

// zipEpoch is used to normalize zero-value modification times, since ZIP's
// DOS date format cannot represent dates before 1980.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
