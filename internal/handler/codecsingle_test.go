package handler

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/Munger/arcfs/internal/codec"
	"github.com/Munger/arcfs/internal/entry"
)

func TestCodecSingleRoundTrip(t *testing.T) {
	payload := strings.Repeat("Z", 1000)

	h := NewCodecSingle(codec.Gzip, "note.txt.gz")
	var buf bytes.Buffer
	e := &entry.Entry{
		Name: "note.txt",
		Kind: entry.KindFile,
		Size: int64(len(payload)),
		Source: entry.ContentSource{
			Tag:          entry.SourceOverlay,
			OverlayBytes: []byte(payload),
		},
	}
	if err := h.Serialize(&buf, []*entry.Entry{e}); err != nil {
		t.Fatalf("Serialize error = %v", err)
	}

	loaded := NewCodecSingle(codec.Gzip, "note.txt.gz")
	store, err := loaded.Load(io.NopCloser(bytes.NewReader(buf.Bytes())))
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}

	names := store.Children("")
	if len(names) != 1 || names[0] != "note.txt" {
		t.Fatalf("Children(\"\") = %v, want [note.txt]", names)
	}

	got, ok := store.Get("note.txt")
	if !ok {
		t.Fatalf("expected note.txt entry")
	}
	rc, err := loaded.OpenEntryRead(got)
	if err != nil {
		t.Fatalf("OpenEntryRead error = %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll error = %v", err)
	}
	if string(data) != payload {
		t.Fatalf("content mismatch: got %d bytes, want %d", len(data), len(payload))
	}
}
