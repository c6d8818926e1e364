package object

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"voxelpipe/internal/fileutil"
	"voxelpipe/internal/nifti"
)

type backing interface {
	class() string
	// raw returns the stored bytes without decompression.
	raw(f *File) ([]byte, error)
}

// diskBacking reads <dataDir>/<source path>/<filename>, or <dataDir>/<stored>
// for objects rebuilt from a stored target.
type diskBacking struct {
	dataDir string
	stored  string
}

func (diskBacking) class() string { return ClassFileDisk }

func (b diskBacking) raw(f *File) ([]byte, error) {
	return os.ReadFile(b.path(f))
}

func (b diskBacking) path(f *File) string {
	if b.stored != "" {
		return filepath.Join(b.dataDir, filepath.FromSlash(b.stored))
	}
	return filepath.Join(b.dataDir, f.sourcePath, f.filename)
}

// tarBacking holds a member read from an archive. content is nil in stub runs.
type tarBacking struct {
	tarFilename string
	content     []byte
}

func (tarBacking) class() string { return ClassFileTar }

func (b tarBacking) raw(f *File) ([]byte, error) {
	if b.content == nil {
		return nil, fmt.Errorf("tar member %s of %s was not read", f.filename, b.tarFilename)
	}
	return b.content, nil
}

type memoryBacking struct {
	content []byte
}

func (memoryBacking) class() string { return ClassFileMemory }

func (b memoryBacking) raw(*File) ([]byte, error) { return b.content, nil }

// File is a file item backed by disk, an archive member or memory.
type File struct {
	meta
	backing backing
}

var _ Object = (*File)(nil)

// NewDiskFile references <dataDir>/<sourcePath>/<filename>.
func NewDiskFile(dataDir, filename, subPath, sourcePath string, actions []Action) *File {
	return &File{meta: newMeta(filename, subPath, sourcePath, actions), backing: diskBacking{dataDir: dataDir}}
}

// NewTarFile wraps an archive member. tarFilename is data-relative.
func NewTarFile(tarFilename string, content []byte, filename, subPath, sourcePath string, actions []Action) *File {
	return &File{meta: newMeta(filename, subPath, sourcePath, actions), backing: tarBacking{tarFilename: tarFilename, content: content}}
}

// NewMemoryFile holds content in memory.
func NewMemoryFile(content []byte, filename, subPath, sourcePath string, actions []Action) *File {
	return &File{meta: newMeta(filename, subPath, sourcePath, actions), backing: memoryBacking{content: content}}
}

func (f *File) DataType() DataType { return TypeFile }

// Class returns the object class recorded in descriptors.
func (f *File) Class() string { return f.backing.class() }

// DiskPath returns the absolute path of a disk file.
func (f *File) DiskPath() (string, bool) {
	b, ok := f.backing.(diskBacking)
	if !ok {
		return "", false
	}
	return b.path(f), true
}

func (f *File) Descriptor() Descriptor {
	d := f.describe(f.backing.class(), TypeFile)
	if tb, ok := f.backing.(tarBacking); ok {
		d.TarFilename = tb.tarFilename
	}
	return d
}

// Discard drops in-memory content of archive members and memory files.
func (f *File) Discard() {
	switch b := f.backing.(type) {
	case tarBacking:
		b.content = nil
		f.backing = b
	case memoryBacking:
		b.content = nil
		f.backing = b
	}
}

// RawBytes returns the stored bytes, still compressed for .gz/.bz2 names.
func (f *File) RawBytes() ([]byte, error) {
	return f.backing.raw(f)
}

// Bytes returns the content, decompressing .gz and .bz2 names.
func (f *File) Bytes() ([]byte, error) {
	raw, err := f.backing.raw(f)
	if err != nil {
		return nil, err
	}
	if fileutil.CompressionExt(f.filename) == "" {
		return raw, nil
	}
	r, err := fileutil.Decompress(f.filename, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// IsImage reports whether the filename carries a volume extension.
func (f *File) IsImage() bool {
	return nifti.IsImageFilename(f.filename)
}

// AsImage decodes the file as a volume. It returns nil for non-image names.
// In stub mode the placeholder volume is used and nothing is read.
func (f *File) AsImage(stub bool) (*Image, error) {
	if !f.IsImage() {
		return nil, nil
	}
	var vol *nifti.Volume
	if stub {
		vol = nifti.Stub()
	} else {
		data, err := f.Bytes()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.filename, err)
		}
		vol, err = nifti.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.filename, err)
		}
	}
	return NewImage(vol, f.filename, f.subPath, f.sourcePath, f.actions), nil
}

// Replace derives a new file with action appended. WithContent turns the
// result into a memory file.
func (f *File) Replace(action Action, opts ...ChangeOpt) *File {
	next, change := f.derive(f.Descriptor(), action, opts)
	b := f.backing
	if change.hasContent {
		b = memoryBacking{content: change.content}
	}
	return &File{meta: next, backing: b}
}
