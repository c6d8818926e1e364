package fileutil

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// Parent directories are created. Removes dst on mismatch.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	var written int64
	err = WriteAtomic(dst, 0o644, func(out io.Writer) error {
		tee := io.TeeReader(in, srcHasher)
		multi := io.MultiWriter(out, dstHasher)
		n, err := io.Copy(multi, tee)
		written = n
		return err
	})
	if err != nil {
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return nil
}

// WriteAtomic writes dst through a temporary sibling file that is renamed into
// place once fill succeeds, so readers never observe a partial file.
func WriteAtomic(dst string, mode os.FileMode, fill func(io.Writer) error) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// WriteFileAtomic is WriteAtomic for an in-memory payload.
func WriteFileAtomic(dst string, data []byte, mode os.FileMode) error {
	return WriteAtomic(dst, mode, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CompressionExt returns ".gz" or ".bz2" when name carries one of the
// transparently decompressed suffixes, and "" otherwise.
func CompressionExt(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return ".gz"
	case strings.HasSuffix(lower, ".bz2"):
		return ".bz2"
	default:
		return ""
	}
}

// Decompress wraps r with a decoder chosen by the compression suffix of name.
// Uncompressed names return r unchanged.
func Decompress(name string, r io.Reader) (io.Reader, error) {
	switch CompressionExt(name) {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", name, err)
		}
		return zr, nil
	case ".bz2":
		return bzip2.NewReader(r), nil
	default:
		return r, nil
	}
}

// ReadMaybeCompressed reads the whole file at path, decompressing .gz and
// .bz2 content.
func ReadMaybeCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := Decompress(path, f)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
