package object

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// WalkTar calls fn for every regular member of the archive at path, in
// archive order. Content is nil when skipContent is set.
func WalkTar(path string, skipContent bool, fn func(name string, content []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".tgz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		var content []byte
		if !skipContent {
			content, err = io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("read %s member %s: %w", path, hdr.Name, err)
			}
		}
		if err := fn(hdr.Name, content); err != nil {
			return err
		}
	}
}

// CountTar returns the number of regular members of the archive at path.
func CountTar(path string) (int, error) {
	n := 0
	err := WalkTar(path, true, func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}
