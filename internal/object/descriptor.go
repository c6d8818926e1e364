package object

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"voxelpipe/internal/nifti"
)

// DecodeDescriptor parses sidecar JSON keeping numbers exact.
func DecodeDescriptor(data []byte) (Descriptor, error) {
	var d Descriptor
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	return d, nil
}

// ReadDescriptor loads a sidecar file.
func ReadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	d, err := DecodeDescriptor(data)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// FromDescriptor rebuilds the stored object a target descriptor points to.
// The descriptor's names and paths are kept. Images are decoded from the
// stored file, memory and archive member files read it back into memory, and
// disk files reference it.
func FromDescriptor(dataDir string, d Descriptor) (Object, error) {
	stored := d.StoredFilename()
	if stored == "" {
		return nil, fmt.Errorf("descriptor of %q has no stored action", d.Filename)
	}
	filename := d.Filename
	if filename == "" {
		filename = path.Base(stored)
	}
	base := newMeta(filename, d.SubPath, d.SourcePath, d.Actions)
	base.source = d.Source
	abs := filepath.Join(dataDir, filepath.FromSlash(stored))

	switch d.DataType {
	case TypeImage:
		vol, err := nifti.Load(abs)
		if err != nil {
			return nil, err
		}
		return &Image{meta: base, volume: vol}, nil
	case TypeFile:
		switch d.ObjectClass {
		case ClassFileMemory, ClassFileTar:
			content, err := os.ReadFile(abs)
			if err != nil {
				return nil, err
			}
			return &File{meta: base, backing: memoryBacking{content: content}}, nil
		default:
			return &File{meta: base, backing: diskBacking{dataDir: dataDir, stored: stored}}, nil
		}
	default:
		return nil, fmt.Errorf("unknown data type %q", d.DataType)
	}
}
