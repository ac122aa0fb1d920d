package arcfs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Munger/arcfs/internal/handler"
)

func newFSIn(t *testing.T, dir string) *ArchiveFS {
	t.Helper()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// Scenario 1: create x.zip, write a/b.txt, close, reopen, list, read.
func TestScenarioZipNestedDir(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	if err := a.Write("x.zip/a/b.txt", []byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	a2 := newFSIn(t, dir)
	names, err := a2.ListDir("x.zip")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(names) != 1 || names[0] != "a" {
		t.Fatalf("ListDir(x.zip) = %v, want [a]", names)
	}
	data, err := a2.Read("x.zip/a/b.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("Read = %q, want hi", data)
	}
}

// Scenario 2: create x.tar.gz with 3 entries, walk yields insertion order.
func TestScenarioTarGzThreeEntries(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	sess := a.BatchSession()
	for _, name := range []string{"f0", "f1", "f2"} {
		if err := sess.Write("x.tar.gz/"+name, bytes.Repeat([]byte("a"), 10)); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	fi, err := os.Stat(filepath.Join(dir, "x.tar.gz"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() == 0 {
		t.Fatalf("expected non-empty x.tar.gz")
	}

	a2 := newFSIn(t, dir)
	entries, err := a2.Walk("x.tar.gz")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 walk entry, got %d", len(entries))
	}
	if len(entries[0].SubDirs) != 0 {
		t.Fatalf("expected no subdirs, got %v", entries[0].SubDirs)
	}
	want := []string{"f0", "f1", "f2"}
	if len(entries[0].Files) != len(want) {
		t.Fatalf("Files = %v, want %v", entries[0].Files, want)
	}
	for i := range want {
		if entries[0].Files[i] != want[i] {
			t.Fatalf("Files = %v, want %v", entries[0].Files, want)
		}
	}
}

// Scenario 3: nested outer.zip/inner.tar.gz/deep.txt.
func TestScenarioNestedZipTarGz(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	if err := a.Write("outer.zip/inner.tar.gz/deep.txt", []byte("D")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	a2 := newFSIn(t, dir)
	data, err := a2.Read("outer.zip/inner.tar.gz/deep.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "D" {
		t.Fatalf("Read = %q, want D", data)
	}
}

// Scenario 6: codec-single note.txt.gz.
func TestScenarioCodecSingle(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	content := strings.Repeat("Z", 1000)
	if err := a.Write("note.txt.gz", []byte(content)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	a2 := newFSIn(t, dir)
	data, err := a2.Read("note.txt.gz")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != content {
		t.Fatalf("Read length = %d, want %d", len(data), len(content))
	}
	names, err := a2.ListDir("note.txt.gz")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(names) != 1 || names[0] != "note.txt" {
		t.Fatalf("ListDir(note.txt.gz) = %v, want [note.txt]", names)
	}
}

// Invariant 1: read-your-writes within one instance.
func TestReadYourWrites(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	if err := a.Write("a.zip/x.txt", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := a.Read("a.zip/x.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("Read = %q, want hello", data)
	}
}

// Invariant 4: mkdir(create_parents=true) is idempotent.
func TestMkdirIdempotent(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	if err := a.Mkdir("a.zip/dir", true); err != nil {
		t.Fatalf("Mkdir 1: %v", err)
	}
	if err := a.Mkdir("a.zip/dir", true); err != nil {
		t.Fatalf("Mkdir 2 should not error, got: %v", err)
	}
}

// Invariant 5: normalization equivalence.
func TestPathNormalizationEquivalence(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	if err := a.Write("a.zip/a/b/c.txt", []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	d1, err := a.Read("a.zip/a//b/./c.txt")
	if err != nil {
		t.Fatalf("Read normalized: %v", err)
	}
	d2, err := a.Read("a.zip/a/b/c.txt")
	if err != nil {
		t.Fatalf("Read plain: %v", err)
	}
	if string(d1) != string(d2) {
		t.Fatalf("normalized read %q != plain read %q", d1, d2)
	}
}

// Invariant 7: tombstone invisibility before commit.
func TestTombstoneInvisibleWithinSession(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	if err := a.Write("a.zip/x.txt", []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	sess := a.BatchSession()
	if err := sess.Remove("a.zip/x.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := sess.Read("a.zip/x.txt"); err == nil {
		t.Fatalf("expected read to fail after tombstoning within session")
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if a.Exists("a.zip/x.txt") {
		t.Fatalf("expected x.txt gone after commit")
	}
	names, err := a.ListDir("a.zip")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	for _, n := range names {
		if n == "x.txt" {
			t.Fatalf("expected x.txt excluded from ListDir, got %v", names)
		}
	}
}

// Invariant 8: nesting to depth 8.
func TestNestingDepthEight(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	segs := make([]string, 0, 9)
	for i := 0; i < 8; i++ {
		segs = append(segs, "layer"+string(rune('0'+i))+".zip")
	}
	segs = append(segs, "file.txt")
	path := strings.Join(segs, "/")

	if err := a.Write(path, []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	a2 := newFSIn(t, dir)
	data, err := a2.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "deep" {
		t.Fatalf("Read = %q, want deep", data)
	}
}

// Exists / Remove semantics.
func TestExistsAndRemove(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	if err := a.Write("a.zip/x.txt", []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !a.Exists("a.zip/x.txt") {
		t.Fatalf("expected x.txt to exist")
	}
	if a.Exists("a.zip/missing.txt") {
		t.Fatalf("expected missing.txt to not exist")
	}
	if err := a.Remove("a.zip/x.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if a.Exists("a.zip/x.txt") {
		t.Fatalf("expected x.txt removed")
	}
}

// Append: read-modify-write through staged overlay.
func TestAppend(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	if err := a.Write("a.zip/log.txt", []byte("first")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Append("a.zip/log.txt", []byte("second")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	data, err := a.Read("a.zip/log.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "firstsecond" {
		t.Fatalf("Read = %q, want firstsecond", data)
	}
}

// Copy and Move.
func TestCopyAndMove(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	if err := a.Write("a.zip/src.txt", []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Copy("a.zip/src.txt", "a.zip/copy.txt"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	data, err := a.Read("a.zip/copy.txt")
	if err != nil {
		t.Fatalf("Read copy: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("copy content = %q, want payload", data)
	}

	if err := a.Move("a.zip/copy.txt", "a.zip/moved.txt"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if a.Exists("a.zip/copy.txt") {
		t.Fatalf("expected copy.txt gone after move")
	}
	data, err = a.Read("a.zip/moved.txt")
	if err != nil {
		t.Fatalf("Read moved: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("moved content = %q, want payload", data)
	}
}

// Rmdir refuses non-empty unless recursive.
func TestRmdirRefusesNonEmptyWithoutRecursive(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	if err := a.Write("a.zip/dir/x.txt", []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Rmdir("a.zip/dir", false); err == nil {
		t.Fatalf("expected Rmdir to fail on non-empty directory")
	}
	if err := a.Rmdir("a.zip/dir", true); err != nil {
		t.Fatalf("Rmdir recursive: %v", err)
	}
	if a.Exists("a.zip/dir/x.txt") {
		t.Fatalf("expected dir/x.txt gone")
	}
}

// GetInfo reports size and kind.
func TestGetInfo(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	if err := a.Write("a.zip/x.txt", []byte("12345")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := a.GetInfo("a.zip/x.txt")
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.Size != 5 {
		t.Fatalf("Size = %d, want 5", info.Size)
	}
}

// A path that never crosses an archive boundary behaves like a plain file.
func TestPhysicalPassthrough(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)
	if err := a.Write("plain.txt", []byte("physical")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "plain.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "physical" {
		t.Fatalf("content = %q, want physical", data)
	}
	if got, err := a.Read("plain.txt"); err != nil || string(got) != "physical" {
		t.Fatalf("Read = %q, %v", got, err)
	}
}

// SetArchiveHandler lets a caller register a handler for a custom
// extension and have it participate in ordinary resolution.
func TestSetArchiveHandlerCustomExtension(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	a.SetArchiveHandler(".customarc", func(string) handler.Handler { return handler.NewZip() })

	if err := a.Write("box.customarc/x.txt", []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := a.Read("box.customarc/x.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "v" {
		t.Fatalf("Read = %q, want v", data)
	}
}

// Open exposes Seek for an entry inside a random-read-capable container
// (ZIP), and reports an error for one that only decodes forward
// (codec-single).
func TestOpenSeek(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	if err := a.Write("a.zip/x.txt", []byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	rwc, err := a.Open("a.zip/x.txt", OpenRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rwc.Close()
	seeker, ok := rwc.(io.Seeker)
	if !ok {
		t.Fatalf("expected returned stream to implement io.Seeker")
	}
	if _, err := seeker.Seek(5, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got, err := io.ReadAll(rwc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "56789" {
		t.Fatalf("ReadAll after Seek = %q, want 56789", got)
	}

	if err := a.Write("note.txt.gz", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	rwc2, err := a.Open("note.txt.gz", OpenRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rwc2.Close()
	if _, err := rwc2.(io.Seeker).Seek(0, io.SeekStart); err == nil {
		t.Fatalf("expected Seek on codec-single stream to error")
	}
}

// ExtractToDir is the reverse of CreateArchiveFromDir: a directory and a
// file entry inside a ZIP materialize as an ordinary directory and file on
// the real filesystem, with permission bits masked against the umask the
// same way an untar would.
func TestExtractToDirRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	if err := a.Write("a.zip/sub/file.txt", []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Mkdir("a.zip/empty", true); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	out := filepath.Join(dir, "out")
	if err := a.ExtractToDir("a.zip", out); err != nil {
		t.Fatalf("ExtractToDir: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(out, "sub", "file.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("extracted content = %q, want payload", data)
	}
	fi, err := os.Stat(filepath.Join(out, "empty"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !fi.IsDir() {
		t.Fatalf("expected empty to be a directory")
	}
}

func TestExtractToDirRejectsNonArchivePath(t *testing.T) {
	dir := t.TempDir()
	a := newFSIn(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "plain.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := a.ExtractToDir("plain.txt", filepath.Join(dir, "out")); err == nil {
		t.Fatalf("expected error extracting a non-archive path")
	}
}
