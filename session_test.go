package arcfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Munger/arcfs/internal/entry"
	"github.com/Munger/arcfs/internal/handler"
)

// countingHandler wraps a Handler and counts Serialize calls, so a batch
// session's rebuild count is directly observable.
type countingHandler struct {
	handler.Handler
	count *int
}

func (c *countingHandler) Serialize(w io.Writer, entries []*entry.Entry) error {
	*c.count++
	return c.Handler.Serialize(w, entries)
}

// failingHandler always fails Serialize, used to exercise the
// no-partial-outer-file guarantee.
type failingHandler struct {
	handler.Handler
}

func (failingHandler) Serialize(io.Writer, []*entry.Entry) error {
	return fmt.Errorf("injected serialize failure")
}

// Scenario 4: within one batch session, writing 5 files to the same
// container triggers exactly one rebuild.
func TestBatchSessionSingleRebuildCount(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	count := 0
	a.SetArchiveHandler(".zip", func(string) handler.Handler {
		return &countingHandler{Handler: handler.NewZip(), count: &count}
	})

	sess := a.BatchSession()
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("b.zip/f%d.txt", i)
		if err := sess.Write(name, []byte("x")); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if count != 1 {
		t.Fatalf("Serialize called %d times, want 1", count)
	}
}

// Scenario 5: a transaction spanning [a.zip, b.zip] where b.zip fails to
// serialize leaves both original files untouched on disk.
func TestTransactionFailureLeavesOriginalsUntouched(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	if err := a.Write("a.zip/x.txt", []byte("original-a")); err != nil {
		t.Fatalf("seed a.zip: %v", err)
	}
	if err := a.Write("b.zip/y.txt", []byte("original-b")); err != nil {
		t.Fatalf("seed b.zip: %v", err)
	}

	origA, err := os.ReadFile(filepath.Join(dir, "a.zip"))
	if err != nil {
		t.Fatalf("read a.zip: %v", err)
	}
	origB, err := os.ReadFile(filepath.Join(dir, "b.zip"))
	if err != nil {
		t.Fatalf("read b.zip: %v", err)
	}

	a.SetArchiveHandler(".zip", func(name string) handler.Handler {
		if strings.HasSuffix(name, "b.zip") {
			return failingHandler{Handler: handler.NewZip()}
		}
		return handler.NewZip()
	})

	txn := a.Transaction("a.zip", "b.zip")
	sess := txn.Session()
	if err := sess.Write("a.zip/x.txt", []byte("mutated-a")); err != nil {
		t.Fatalf("Write a.zip: %v", err)
	}
	if err := sess.Write("b.zip/y.txt", []byte("mutated-b")); err != nil {
		t.Fatalf("Write b.zip: %v", err)
	}

	err = txn.Commit()
	if err == nil {
		t.Fatalf("expected Commit to fail")
	}

	gotA, rerr := os.ReadFile(filepath.Join(dir, "a.zip"))
	if rerr != nil {
		t.Fatalf("read a.zip after failed commit: %v", rerr)
	}
	gotB, rerr := os.ReadFile(filepath.Join(dir, "b.zip"))
	if rerr != nil {
		t.Fatalf("read b.zip after failed commit: %v", rerr)
	}
	if string(gotA) != string(origA) {
		t.Fatalf("a.zip mutated despite transaction failure")
	}
	if string(gotB) != string(origB) {
		t.Fatalf("b.zip mutated despite transaction failure")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), "arcfs-") {
			t.Fatalf("leftover temp file after failed transaction: %s", e.Name())
		}
	}
}

// A Transaction declared over a fixed set of outer paths rejects any
// operation resolving outside that set, rather than silently widening its
// scope to whatever the Session happens to touch.
func TestTransactionRejectsPathOutsideDeclaredScope(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	if err := a.Write("c.zip/z.txt", []byte("untouched")); err != nil {
		t.Fatalf("seed c.zip: %v", err)
	}

	txn := a.Transaction("a.zip", "b.zip")
	sess := txn.Session()
	if err := sess.Write("a.zip/x.txt", []byte("in-scope")); err != nil {
		t.Fatalf("Write a.zip: %v", err)
	}
	if err := sess.Write("c.zip/z.txt", []byte("out-of-scope")); err == nil {
		t.Fatalf("expected Write outside declared scope to fail")
	}
	txn.Discard()
}

// A discarded session leaves no trace: no commit, and the physical files
// backing the session remain unchanged.
func TestSessionDiscardLeavesNoTrace(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	if err := a.Write("a.zip/x.txt", []byte("original")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sess := a.BatchSession()
	if err := sess.Write("a.zip/x.txt", []byte("changed")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sess.Discard()

	data, err := a.Read("a.zip/x.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "original" {
		t.Fatalf("Read = %q, want original (discarded session should not commit)", data)
	}
}

// Committing a session twice, or discarding after commit, must not panic
// or double-rebuild.
func TestSessionCommitThenDiscardIsNoop(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	sess := a.BatchSession()
	if err := sess.Write("a.zip/x.txt", []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	sess.Discard()

	if err := sess.Commit(); err == nil {
		t.Fatalf("expected second Commit to report StateError")
	}
}
