package handler

import (
	"fmt"
	"io"

	"github.com/Munger/arcfs/internal/codec"
	"github.com/Munger/arcfs/internal/entry"
)

// CodecSingleHandler treats a bare compression stream (.gz, .bz2, .xz,
// .zst, .lz4) as an archive containing exactly one entry, whose name is
// the outer filename with the codec extension stripped. list_dir on such
// an archive returns that single name; writing the archive rewrites the
// sole entry.
type CodecSingleHandler struct {
	Codec      codec.Kind
	OuterName  string
	BufferSize int

	src     io.ReadCloser
	decoded []byte
	loaded  bool
}

// NewCodecSingle constructs an unopened codec-single handler for the given
// codec and the outer archive's filename (used to derive the single
// entry's name), with the default I/O chunk size.
func NewCodecSingle(k codec.Kind, outerName string) Handler {
	return &CodecSingleHandler{Codec: k, OuterName: outerName}
}

// NewCodecSingleSized is NewCodecSingle with a caller-tunable I/O chunk
// size for the codec's Decode/Encode stream.
func NewCodecSingleSized(k codec.Kind, outerName string, bufSize int) Handler {
	return &CodecSingleHandler{Codec: k, OuterName: outerName, BufferSize: bufSize}
}

func (c *CodecSingleHandler) entryName() string {
	return codec.StripCodecExtension(c.OuterName)
}

// SingleEntryName reports the one entry name new content should be staged
// under when a path resolves to this archive itself rather than to a
// segment inside it.
func (c *CodecSingleHandler) SingleEntryName() string {
	return c.entryName()
}

func (c *CodecSingleHandler) Load(r io.ReadCloser) (*entry.Store, error) {
	c.src = r
	c.loaded = true

	// Materialize once so both Size and OpenEntryRead are cheap; codec
	// streams have no index to seek by, so a single decode pass is
	// unavoidable to know the logical size.
	dr, err := codec.Decode(r, c.Codec, c.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("codecsingle: %w", err)
	}
	data, err := io.ReadAll(dr)
	dr.Close()
	if err != nil {
		return nil, fmt.Errorf("codecsingle: decode: %w", err)
	}
	c.decoded = data

	name := c.entryName()
	store := entry.NewStore()
	store.Put(&entry.Entry{
		Name: name,
		Kind: entry.KindFile,
		Size: int64(len(data)),
		Source: entry.ContentSource{
			Tag: entry.SourceOriginal,
		},
	})
	return store, nil
}

func (c *CodecSingleHandler) OpenEntryRead(e *entry.Entry) (io.ReadCloser, error) {
	if !c.loaded {
		return nil, fmt.Errorf("codecsingle: handler not loaded")
	}
	if e.Name != c.entryName() {
		return nil, fmt.Errorf("codecsingle: entry %q not found", e.Name)
	}
	return io.NopCloser(newByteReader(c.decoded)), nil
}

func (c *CodecSingleHandler) Serialize(w io.Writer, entries []*entry.Entry) error {
	if len(entries) != 1 {
		return fmt.Errorf("codecsingle: exactly one entry required, got %d", len(entries))
	}
	e := entries[0]
	ew, err := codec.Encode(nopWriteCloserWrap(w), c.Codec, c.BufferSize)
	if err != nil {
		return fmt.Errorf("codecsingle: %w", err)
	}
	src, err := openContentSource(c, e)
	if err != nil {
		ew.Close()
		return fmt.Errorf("codecsingle: open content: %w", err)
	}
	_, cerr := copyBuffered(ew, src, c.BufferSize)
	src.Close()
	if cerr != nil {
		ew.Close()
		return fmt.Errorf("codecsingle: write content: %w", cerr)
	}
	if err := ew.Close(); err != nil {
		return fmt.Errorf("codecsingle: finalize: %w", err)
	}
	return nil
}

func (c *CodecSingleHandler) Capabilities() Capabilities {
	return Capabilities{RandomRead: false, AppendInPlace: false, SingleEntry: true}
}

func (c *CodecSingleHandler) Close() error {
	if c.src == nil {
		return nil
	}
	err := c.src.Close()
	c.src = nil
	return err
}
