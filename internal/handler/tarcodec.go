package handler

import (
	"fmt"
	"io"

	"github.com/Munger/arcfs/internal/codec"
	"github.com/Munger/arcfs/internal/entry"
)

// TarCodecHandler composes a codec layer with TarHandler so composite
// extensions like ".tar.gz" behave as one archive boundary rather than two:
// the Resolver sees a single segment, and Load/Serialize transparently
// decode/encode around the plain TAR stream.
type TarCodecHandler struct {
	Codec      codec.Kind
	BufferSize int

	src io.ReadCloser
	tar *TarHandler
}

// NewTarCodec constructs an unopened handler for a TAR stream wrapped in
// the given codec, with the default I/O chunk size.
func NewTarCodec(k codec.Kind) Handler {
	return &TarCodecHandler{Codec: k}
}

// NewTarCodecSized is NewTarCodec with a caller-tunable I/O chunk size for
// both the codec layer and the inner TAR handler.
func NewTarCodecSized(k codec.Kind, bufSize int) Handler {
	return &TarCodecHandler{Codec: k, BufferSize: bufSize}
}

func (h *TarCodecHandler) Load(r io.ReadCloser) (*entry.Store, error) {
	h.src = r
	decoded, err := codec.Decode(r, h.Codec, h.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("tarcodec: decode: %w", err)
	}
	h.tar = NewTarSized(h.BufferSize).(*TarHandler)
	store, err := h.tar.Load(decoded)
	if err != nil {
		return nil, fmt.Errorf("tarcodec: %w", err)
	}
	return store, nil
}

func (h *TarCodecHandler) OpenEntryRead(e *entry.Entry) (io.ReadCloser, error) {
	if h.tar == nil {
		return nil, fmt.Errorf("tarcodec: handler not loaded")
	}
	return h.tar.OpenEntryRead(e)
}

func (h *TarCodecHandler) Serialize(w io.Writer, entries []*entry.Entry) error {
	enc, err := codec.Encode(nopWriteCloserWrap(w), h.Codec, h.BufferSize)
	if err != nil {
		return fmt.Errorf("tarcodec: encode: %w", err)
	}
	inner := h.tar
	if inner == nil {
		inner = NewTarSized(h.BufferSize).(*TarHandler)
	}
	if err := inner.Serialize(enc, entries); err != nil {
		enc.Close()
		return fmt.Errorf("tarcodec: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("tarcodec: finalize: %w", err)
	}
	return nil
}

func (h *TarCodecHandler) Capabilities() Capabilities {
	return Capabilities{RandomRead: false, AppendInPlace: false}
}

func (h *TarCodecHandler) Close() error {
	if h.tar != nil {
		h.tar.Close()
	}
	if h.src == nil {
		return nil
	}
	err := h.src.Close()
	h.src = nil
	return err
}
