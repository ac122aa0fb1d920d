// Package codec implements the Codec Chain: layered streaming
// (de)compression for gzip, bzip2, xz, zstd, and lz4. Every codec exposes
// the same Decode/Encode contract so the archive handlers above can treat
// ".tar.xz" as "tar over an xz-decoded stream" without caring which codec
// is in play.
package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Kind identifies a compression codec.
type Kind string

const (
	None  Kind = "none"
	Gzip  Kind = "gzip"
	Bzip2 Kind = "bzip2"
	Xz    Kind = "xz"
	Zstd  Kind = "zstd"
	Lz4   Kind = "lz4"
)

// FromExtension maps a lowercase file extension (with leading dot) to its
// codec, or ("", false) if the extension names no known codec.
func FromExtension(ext string) (Kind, bool) {
	switch strings.ToLower(ext) {
	case ".gz", ".tgz":
		return Gzip, true
	case ".bz2", ".tbz2", ".tbz":
		return Bzip2, true
	case ".xz", ".txz":
		return Xz, true
	case ".zst", ".tzst":
		return Zstd, true
	case ".lz4", ".tlz4":
		return Lz4, true
	default:
		return "", false
	}
}

// DetectMagic sniffs a codec from the first bytes of a stream, returning
// (None, false) if nothing recognized matches.
func DetectMagic(magic []byte) (Kind, bool) {
	switch {
	case len(magic) >= 2 && bytes.Equal(magic[:2], []byte{0x1f, 0x8b}):
		return Gzip, true
	case len(magic) >= 3 && bytes.Equal(magic[:3], []byte{'B', 'Z', 'h'}):
		return Bzip2, true
	case len(magic) >= 6 && bytes.Equal(magic[:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		return Xz, true
	case len(magic) >= 4 && bytes.Equal(magic[:4], []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return Zstd, true
	case len(magic) >= 4 && bytes.Equal(magic[:4], []byte{0x04, 0x22, 0x4d, 0x18}):
		return Lz4, true
	default:
		return "", false
	}
}

// ExtensionFor returns the canonical extension (with leading dot) for a
// codec, the inverse of FromExtension for the plain (non-tar) forms.
func ExtensionFor(k Kind) string {
	switch k {
	case Gzip:
		return ".gz"
	case Bzip2:
		return ".bz2"
	case Xz:
		return ".xz"
	case Zstd:
		return ".zst"
	case Lz4:
		return ".lz4"
	default:
		return ""
	}
}

// StripCodecExtension returns name with its codec extension removed, used
// by the codec-single handler to derive the synthetic entry name.
func StripCodecExtension(name string) string {
	ext := filepath.Ext(name)
	if _, ok := FromExtension(ext); ok {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// Decode wraps src with a decompressing Reader for the given codec. The
// returned ReadCloser's Close also closes src. Corrupt input surfaces as
// an unclassified error from the first Read that cannot produce output
// (the resolver reports a handler Load that fails this way as a
// FormatError); construction itself
// only fails for a codec whose header cannot be parsed up front (e.g. a
// bad gzip/xz magic). bufSize overrides the size of the buffered reader
// sitting in front of the codec; non-positive uses bufio's default.
func Decode(src io.ReadCloser, k Kind, bufSize int) (io.ReadCloser, error) {
	if k == None {
		return src, nil
	}
	br := newBufReader(src, bufSize)
	switch k {
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("codec: gzip: %w", err)
		}
		return &multiCloser{r: zr, closers: []io.Closer{zr, src}}, nil
	case Bzip2:
		zr, err := bzip2.NewReader(br, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: bzip2: %w", err)
		}
		return &readCloser{r: zr, c: src}, nil
	case Xz:
		zr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("codec: xz: %w", err)
		}
		return &readCloser{r: zr, c: src}, nil
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd: %w", err)
		}
		return &multiCloser{r: zr, closers: []io.Closer{zr.IOReadCloser(), src}}, nil
	case Lz4:
		zr := lz4.NewReader(br)
		return &readCloser{r: zr, c: src}, nil
	default:
		return nil, fmt.Errorf("codec: unsupported codec %q", k)
	}
}

// DecodeAuto behaves like Decode but first sniffs the codec from magic
// bytes, falling back to hint (typically a filename extension) and then to
// None.
func DecodeAuto(src io.ReadCloser, hint string, bufSize int) (io.ReadCloser, Kind, error) {
	br := newBufReader(src, bufSize)
	magic, _ := br.Peek(8)
	k, ok := DetectMagic(magic)
	if !ok {
		k, ok = FromExtension(filepath.Ext(hint))
	}
	if !ok {
		k = None
	}
	wrapped, err := Decode(&readCloser{r: br, c: src}, k, bufSize)
	return wrapped, k, err
}

func newBufReader(src io.Reader, bufSize int) *bufio.Reader {
	if bufSize > 0 {
		return bufio.NewReaderSize(src, bufSize)
	}
	return bufio.NewReader(src)
}

// Encode wraps dst with a compressing WriteCloser for the given codec.
// Closing the returned writer flushes and closes both the codec layer and
// dst, in that order, so the codec's trailer is written before the
// underlying stream is finalized. Encoding never needs to know the final
// compressed size up front — every codec here is a streaming writer.
// bufSize, when positive, interposes a bufio.Writer of that size between
// the codec and dst so the codec's small internal writes coalesce into
// bufSize-chunked writes to dst.
func Encode(dst io.WriteCloser, k Kind, bufSize int) (io.WriteCloser, error) {
	out, flush := bufferedDst(dst, bufSize)
	switch k {
	case None:
		if flush == nil {
			return dst, nil
		}
		return &stackedWriter{w: nopCloser{out}, flush: flush, dst: dst}, nil
	case Gzip:
		return &stackedWriter{w: gzip.NewWriter(out), flush: flush, dst: dst}, nil
	case Bzip2:
		zw, err := bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
		if err != nil {
			return nil, fmt.Errorf("codec: bzip2: %w", err)
		}
		return &stackedWriter{w: zw, flush: flush, dst: dst}, nil
	case Xz:
		zw, err := xz.NewWriter(out)
		if err != nil {
			return nil, fmt.Errorf("codec: xz: %w", err)
		}
		return &stackedWriter{w: zw, flush: flush, dst: dst}, nil
	case Zstd:
		zw, err := zstd.NewWriter(out)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd: %w", err)
		}
		return &stackedWriter{w: zw, flush: flush, dst: dst}, nil
	case Lz4:
		zw := lz4.NewWriter(out)
		return &stackedWriter{w: zw, flush: flush, dst: dst}, nil
	default:
		return nil, fmt.Errorf("codec: unsupported codec %q", k)
	}
}

// bufferedDst wraps dst in a bufio.Writer sized bufSize when bufSize is
// positive, returning the writer the codec should target and a flush func
// to drain it before dst.Close is called. Both are nil-safe: a
// non-positive bufSize returns (dst, nil).
func bufferedDst(dst io.Writer, bufSize int) (io.Writer, func() error) {
	if bufSize <= 0 {
		return dst, nil
	}
	bw := bufio.NewWriterSize(dst, bufSize)
	return bw, bw.Flush
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type readCloser struct {
	r io.Reader
	c io.Closer
}

func (r *readCloser) Read(p []byte) (int, error) { return r.r.Read(p) }
func (r *readCloser) Close() error               { return r.c.Close() }

type multiCloser struct {
	r       io.Reader
	closers []io.Closer
}

func (m *multiCloser) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// stackedWriter closes the codec layer, then flushes any buffered writer
// sitting between it and dst, before closing dst itself — so a
// compressor's trailer (checksum, final block) is both written and
// drained before dst is finalized.
type stackedWriter struct {
	w     io.WriteCloser
	flush func() error
	dst   io.Closer
}

func (w *stackedWriter) Write(p []byte) (int, error) { return w.w.Write(p) }

func (w *stackedWriter) Close() error {
	var first error
	if err := w.w.Close(); err != nil {
		first = err
	}
	if w.flush != nil {
		if err := w.flush(); err != nil && first == nil {
			first = err
		}
	}
	if err := w.dst.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
