package engine

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Munger/arcfs/internal/cli"
)

func writeTestZip(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("hello.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hi there")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func newRunnerIn(t *testing.T, dir string) (*Runner, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	var stdout, stderr bytes.Buffer
	r, err := New(&stdout, &stderr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, &stdout, &stderr
}

func TestRunReadFromZip(t *testing.T) {
	dir := t.TempDir()
	writeTestZip(t, filepath.Join(dir, "a.zip"))
	r, stdout, _ := newRunnerIn(t, dir)

	result := r.Run(cli.Options{Command: cli.CmdRead, Args: []string{"a.zip/hello.txt"}})
	if result.Err != nil {
		t.Fatalf("Run: %v", result.Err)
	}
	if stdout.String() != "hi there" {
		t.Fatalf("stdout = %q, want %q", stdout.String(), "hi there")
	}
}

func TestRunWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, _, _ := newRunnerIn(t, dir)

	result := r.Run(cli.Options{Command: cli.CmdWrite, Args: []string{"new.zip/note.txt"}, Data: "staged"})
	if result.Err != nil {
		t.Fatalf("write: %v", result.Err)
	}

	var stdout bytes.Buffer
	r2, err := New(&stdout, &stdout)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result = r2.Run(cli.Options{Command: cli.CmdRead, Args: []string{"new.zip/note.txt"}})
	if result.Err != nil {
		t.Fatalf("read: %v", result.Err)
	}
	if stdout.String() != "staged" {
		t.Fatalf("stdout = %q, want %q", stdout.String(), "staged")
	}
}

func TestRunLsReportsEntries(t *testing.T) {
	dir := t.TempDir()
	writeTestZip(t, filepath.Join(dir, "a.zip"))
	r, stdout, _ := newRunnerIn(t, dir)

	result := r.Run(cli.Options{Command: cli.CmdLs, Args: []string{"a.zip"}})
	if result.Err != nil {
		t.Fatalf("Run: %v", result.Err)
	}
	if stdout.String() != "hello.txt\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunUnknownCommandFails(t *testing.T) {
	dir := t.TempDir()
	r, _, _ := newRunnerIn(t, dir)
	result := r.Run(cli.Options{Command: "bogus"})
	if result.ExitCode != ExitFatal || result.Err == nil {
		t.Fatalf("expected fatal exit for unknown command, got %+v", result)
	}
}

func TestRunRmMissingArgFails(t *testing.T) {
	dir := t.TempDir()
	r, _, _ := newRunnerIn(t, dir)
	result := r.Run(cli.Options{Command: cli.CmdRm})
	if result.ExitCode != ExitFatal {
		t.Fatalf("expected fatal exit for missing arg, got %+v", result)
	}
}

func TestRunMkarchiveFromDirExcludesGlob(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "keep.txt"), []byte("k"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "drop.tmp"), []byte("d"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, _, _ := newRunnerIn(t, dir)
	result := r.Run(cli.Options{
		Command: cli.CmdMkarchiv,
		Args:    []string{"out.zip"},
		From:    src,
		Exclude: []string{"**/*.tmp"},
	})
	if result.Err != nil {
		t.Fatalf("Run: %v", result.Err)
	}

	var stdout bytes.Buffer
	r2, err := New(&stdout, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lsResult := r2.Run(cli.Options{Command: cli.CmdLs, Args: []string{"out.zip"}})
	if lsResult.Err != nil {
		t.Fatalf("Run ls: %v", lsResult.Err)
	}
	if stdout.String() != "keep.txt\nsub\n" {
		t.Fatalf("stdout = %q, want keep.txt and sub only", stdout.String())
	}
}

func TestRunExtractRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeTestZip(t, filepath.Join(dir, "a.zip"))
	r, _, _ := newRunnerIn(t, dir)

	out := filepath.Join(dir, "out")
	result := r.Run(cli.Options{Command: cli.CmdExtract, Args: []string{"a.zip"}, To: out})
	if result.Err != nil {
		t.Fatalf("Run: %v", result.Err)
	}

	data, err := os.ReadFile(filepath.Join(out, "hello.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hi there" {
		t.Fatalf("extracted content = %q, want %q", data, "hi there")
	}
}

func TestRunExtractMissingToFails(t *testing.T) {
	dir := t.TempDir()
	writeTestZip(t, filepath.Join(dir, "a.zip"))
	r, _, _ := newRunnerIn(t, dir)

	result := r.Run(cli.Options{Command: cli.CmdExtract, Args: []string{"a.zip"}})
	if result.ExitCode != ExitFatal {
		t.Fatalf("expected fatal exit for missing --to, got %+v", result)
	}
}
