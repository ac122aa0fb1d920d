// Package stream implements the Stream Layer: file-like byte streams over
// archive entries. Write streams buffer in memory up to a configurable
// threshold and transparently spill to a temp file beyond it; read streams
// wrap a handler's decoded content and, where the handler cannot re-open
// an entry, fall back to buffering everything so a backward seek still
// works. It mirrors the shape of the original implementation's
// HybridBufferedStream: accumulate small writes cheaply, only pay for a
// filesystem handle once a write stream actually gets large.
package stream

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/Munger/arcfs/internal/entry"
	"github.com/Munger/arcfs/internal/localfs"
)

// DefaultThreshold is used when a caller constructs a WriteStream with a
// non-positive threshold.
const DefaultThreshold = 64 << 20

// WriteStream accumulates written bytes in memory until threshold is
// exceeded, then spills to a uniquely named temp file in tempDir. Close
// commits the accumulated bytes as a ContentSource; the stream is spent
// afterward and must not be reused.
type WriteStream struct {
	threshold     int64
	tempDir       string
	outerBasename string

	buf      bytes.Buffer
	file     *os.File
	filePath string
	written  int64
	closed   bool
}

// NewWriteStream returns a WriteStream that spills to tempDir (created
// with the naming convention "arcfs-<random>-<outerBasename>") once more
// than threshold bytes have been written. outerBasename is typically the
// name of the outermost archive file the write ultimately belongs to, so
// spilled temp files are traceable back to their origin.
func NewWriteStream(threshold int64, tempDir, outerBasename string) *WriteStream {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &WriteStream{threshold: threshold, tempDir: tempDir, outerBasename: outerBasename}
}

func (w *WriteStream) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("stream: write to closed stream")
	}
	if w.file == nil && int64(w.buf.Len())+int64(len(p)) > w.threshold {
		if err := w.spill(); err != nil {
			return 0, err
		}
	}
	var n int
	var err error
	if w.file != nil {
		n, err = w.file.Write(p)
	} else {
		n, err = w.buf.Write(p)
	}
	w.written += int64(n)
	return n, err
}

func (w *WriteStream) spill() error {
	f, err := localfs.TempFile(w.tempDir, w.outerBasename, ".write")
	if err != nil {
		return fmt.Errorf("stream: spill: %w", err)
	}
	if _, err := f.Write(w.buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("stream: spill: flush buffered bytes: %w", err)
	}
	w.buf.Reset()
	w.file = f
	w.filePath = f.Name()
	return nil
}

// Close finalizes the stream and returns the ContentSource the Entry
// Store should record: OverlayBytes for a stream that never spilled,
// OverlayPath for one that did. It does not touch the Entry Store itself
// or mark anything dirty — that is the caller's responsibility, per the
// Stream Layer's close semantics (commit the bytes, don't trigger
// rebuild).
func (w *WriteStream) Close() (entry.ContentSource, error) {
	if w.closed {
		return entry.ContentSource{}, fmt.Errorf("stream: already closed")
	}
	w.closed = true
	if w.file == nil {
		return entry.ContentSource{Tag: entry.SourceOverlay, OverlayBytes: w.buf.Bytes()}, nil
	}
	if err := w.file.Close(); err != nil {
		return entry.ContentSource{}, fmt.Errorf("stream: close spill file: %w", err)
	}
	return entry.ContentSource{Tag: entry.SourceOverlay, OverlayPath: w.filePath}, nil
}

// Size reports the number of bytes written so far.
func (w *WriteStream) Size() int64 { return w.written }

// Abandon discards a write stream without committing it, removing any
// spilled temp file. Callers use this when a Session or operation fails
// partway through a write.
func (w *WriteStream) Abandon() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	w.file.Close()
	return localfs.Remove(w.filePath)
}

// ReadStream wraps a handler's decoded content stream. reopen, when
// non-nil, produces a fresh stream from the start so Seek can rewind
// without buffering everything up front; when reopen is nil, the stream
// keeps the bytes it has already returned, and the first backward Seek
// call materializes the whole content (those bytes plus the unread rest)
// into memory.
type ReadStream struct {
	reopen func() (io.ReadCloser, error)
	cur    io.ReadCloser
	pos    int64

	consumed []byte        // bytes read from cur so far, kept only when reopen is nil
	buffered *bytes.Reader // non-nil once fully materialized for seeking
}

// NewReadStream wraps rc. reopen may be nil if the handler offers no way
// to restart the stream (e.g. a codec-single handler already positioned
// mid-decode).
func NewReadStream(rc io.ReadCloser, reopen func() (io.ReadCloser, error)) *ReadStream {
	return &ReadStream{cur: rc, reopen: reopen}
}

func (r *ReadStream) Read(p []byte) (int, error) {
	if r.buffered != nil {
		n, err := r.buffered.Read(p)
		r.pos += int64(n)
		return n, err
	}
	n, err := r.cur.Read(p)
	if r.reopen == nil {
		r.consumed = append(r.consumed, p[:n]...)
	}
	r.pos += int64(n)
	return n, err
}

// Seek supports SeekStart and forward SeekCurrent by discarding bytes;
// any backward seek without a reopen function forces full materialization
// first.
func (r *ReadStream) Seek(offset int64, whence int) (int64, error) {
	target, err := r.resolveOffset(offset, whence)
	if err != nil {
		return 0, err
	}
	if target < r.pos {
		if err := r.rewind(); err != nil {
			return 0, err
		}
	}
	if target > r.pos {
		if _, err := io.CopyN(io.Discard, r, target-r.pos); err != nil {
			return 0, fmt.Errorf("stream: seek forward: %w", err)
		}
	}
	return r.pos, nil
}

func (r *ReadStream) resolveOffset(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		return offset, nil
	case io.SeekCurrent:
		return r.pos + offset, nil
	default:
		return 0, fmt.Errorf("stream: unsupported seek whence %d", whence)
	}
}

func (r *ReadStream) rewind() error {
	if r.reopen != nil {
		rc, err := r.reopen()
		if err != nil {
			return fmt.Errorf("stream: rewind: reopen: %w", err)
		}
		r.cur.Close()
		r.cur = rc
		r.buffered = nil
		r.pos = 0
		return nil
	}
	if r.buffered == nil {
		rest, err := io.ReadAll(r.cur)
		if err != nil {
			return fmt.Errorf("stream: rewind: materialize: %w", err)
		}
		r.buffered = bytes.NewReader(append(r.consumed, rest...))
		r.consumed = nil
	}
	if _, err := r.buffered.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.pos = 0
	return nil
}

func (r *ReadStream) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}

// TextStream is a thin UTF-8 decoding wrapper around a binary stream, per
// §4.F's "text mode is a thin encoding wrapper (UTF-8 default,
// replace-on-error disabled)". Go strings are already UTF-8 byte
// sequences, so this only validates rather than transcodes.
type TextStream struct {
	io.Reader
}

// ReadAllText reads r to completion and validates it as UTF-8, returning
// an error rather than substituting replacement characters (matching the
// spec's "replace-on-error disabled").
func ReadAllText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("stream: read text: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("stream: invalid UTF-8 content")
	}
	return string(data), nil
}
