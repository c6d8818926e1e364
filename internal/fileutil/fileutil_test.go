package fileutil

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileVerifiedCreatesParents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "deeper", "dst.txt")

	content := []byte("hello world")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestWriteAtomicLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.bin")

	boom := errors.New("boom")
	err := WriteAtomic(dst, 0o644, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fill error, got %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("destination should not exist after failed write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func TestWriteFileAtomicSetsMode(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "a", "b.txt")
	if err := WriteFileAtomic(dst, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode mismatch: got %o, want %o", info.Mode().Perm(), 0o600)
	}
}

func TestReadMaybeCompressed(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.txt")
	gz := filepath.Join(dir, "packed.txt.GZ")

	if err := os.WriteFile(plain, []byte("voxels"), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("voxels"))
	_ = zw.Close()
	if err := os.WriteFile(gz, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{plain, gz} {
		got, err := ReadMaybeCompressed(path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if string(got) != "voxels" {
			t.Fatalf("%s: got %q", path, got)
		}
	}
}

func TestCompressionExt(t *testing.T) {
	cases := map[string]string{
		"a.nii":     "",
		"a.nii.gz":  ".gz",
		"a.NII.BZ2": ".bz2",
		"gz":        "",
	}
	for name, want := range cases {
		if got := CompressionExt(name); got != want {
			t.Fatalf("CompressionExt(%q) = %q, want %q", name, got, want)
		}
	}
}
