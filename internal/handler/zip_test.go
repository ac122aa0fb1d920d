package handler

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/Munger/arcfs/internal/entry"
)

func TestZipRoundTrip(t *testing.T) {
	entries := []*entry.Entry{
		{Name: "a", Kind: entry.KindDir, ModTime: time.Now()},
		{Name: "a/b.txt", Kind: entry.KindFile, ModTime: time.Now(), HasMode: true, Mode: 0o644,
			Source: entry.ContentSource{Tag: entry.SourceOverlay, OverlayBytes: []byte("hi")}},
	}

	var buf bytes.Buffer
	zh := NewZip().(*ZipHandler)
	if err := zh.Serialize(&buf, entries); err != nil {
		t.Fatalf("Serialize error = %v", err)
	}

	loaded := NewZip()
	store, err := loaded.Load(io.NopCloser(bytes.NewReader(buf.Bytes())))
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}

	e, ok := store.Get("a/b.txt")
	if !ok {
		t.Fatalf("expected a/b.txt present after reload")
	}
	rc, err := loaded.OpenEntryRead(e)
	if err != nil {
		t.Fatalf("OpenEntryRead error = %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll error = %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("content = %q, want hi", got)
	}

	children := store.Children("")
	if len(children) != 1 || children[0] != "a" {
		t.Fatalf("Children(\"\") = %v, want [a]", children)
	}
}

// NewZipSized must round-trip identically to NewZip; the buffer size only
// changes I/O chunking, never the bytes.
func TestZipSizedRoundTrip(t *testing.T) {
	entries := []*entry.Entry{
		{Name: "c.txt", Kind: entry.KindFile, ModTime: time.Now(),
			Source: entry.ContentSource{Tag: entry.SourceOverlay, OverlayBytes: []byte("payload")}},
	}
	var buf bytes.Buffer
	zh := NewZipSized(13).(*ZipHandler)
	if err := zh.Serialize(&buf, entries); err != nil {
		t.Fatalf("Serialize error = %v", err)
	}

	loaded := NewZipSized(13)
	store, err := loaded.Load(io.NopCloser(bytes.NewReader(buf.Bytes())))
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	e, ok := store.Get("c.txt")
	if !ok {
		t.Fatalf("expected c.txt present after reload")
	}
	rc, err := loaded.OpenEntryRead(e)
	if err != nil {
		t.Fatalf("OpenEntryRead error = %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll error = %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("content = %q, want payload", got)
	}
}

func TestZipCapabilities(t *testing.T) {
	zh := NewZip()
	caps := zh.Capabilities()
	if !caps.RandomRead || caps.AppendInPlace {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}
