package testsupport

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxelpipe/internal/nifti"
)

// Volume returns a float32 volume of the given shape whose voxels count up
// from start.
func Volume(t testing.TB, dims []int, start float64) *nifti.Volume {
	t.Helper()

	vol, err := nifti.New(dims, nifti.Float32)
	if err != nil {
		t.Fatalf("nifti.New: %v", err)
	}
	for i := range vol.Data {
		vol.Data[i] = start + float64(i)
	}
	return vol
}

// WriteVolume saves a counting volume at path (.nii or .nii.gz).
func WriteVolume(t testing.TB, path string, dims []int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := nifti.Save(path, Volume(t, dims, 1)); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

// EncodeVolume returns the file bytes of a counting volume named filename.
func EncodeVolume(t testing.TB, filename string, dims []int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := nifti.EncodeFile(&buf, filename, Volume(t, dims, 1)); err != nil {
		t.Fatalf("encode %s: %v", filename, err)
	}
	return buf.Bytes()
}

// TarMember is one regular file of an archive written by WriteTar.
type TarMember struct {
	Name    string
	Content []byte
}

// WriteTar writes an archive at path, gzip-compressed when the name ends in
// .gz or .tgz. A directory entry is added for every member directory.
func WriteTar(t testing.TB, path string, members ...TarMember) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	seenDirs := map[string]bool{}
	now := time.Now()
	for _, m := range members {
		if dir := filepath.Dir(m.Name); dir != "." && !seenDirs[dir] {
			seenDirs[dir] = true
			hdr := &tar.Header{Name: dir + "/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: now}
			if err := tw.WriteHeader(hdr); err != nil {
				t.Fatalf("tar dir header: %v", err)
			}
		}
		hdr := &tar.Header{Name: m.Name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(m.Content)), ModTime: now}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", m.Name, err)
		}
		if _, err := tw.Write(m.Content); err != nil {
			t.Fatalf("tar write %s: %v", m.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}

	data := buf.Bytes()
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".tgz") {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(data); err != nil {
			t.Fatalf("gzip write: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
		data = zbuf.Bytes()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Touch moves the modification time of path forward by delta.
func Touch(t testing.TB, path string, delta time.Duration) {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	next := info.ModTime().Add(delta)
	if err := os.Chtimes(path, next, next); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}
