package object_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelpipe/internal/nifti"
	"voxelpipe/internal/object"
)

func action(name string, params map[string]any) object.Action {
	return object.Action{
		Name:   name,
		Module: map[string]any{"name": "m", "version": 1, "parameter_values": params},
		Data:   map[string]any{},
	}
}

func TestAddToFilename(t *testing.T) {
	assert.Equal(t, "a_sm20.nii.gz", object.AddToFilename("a.nii.gz", "", "_sm20"))
	assert.Equal(t, "dir/pre_a.nii", object.AddToFilename("dir/a.nii", "pre_", ""))
	assert.Equal(t, "x_s", object.AddToFilename("x", "", "_s"))
	assert.Equal(t, "bundle_tar", object.TarSubPath("data/bundle.tar.gz"))
	assert.Equal(t, "bundle_tar", object.TarSubPath("bundle.tgz"))
	assert.Equal(t, "bundle.nii_tar", object.TarSubPath("bundle.nii.tar"))
	assert.True(t, object.IsTarFilename("x.TAR.gz"))
	assert.False(t, object.IsTarFilename("x.nii.gz"))
}

func TestReplaceAppendsAndFreezesSource(t *testing.T) {
	loaded := action(object.ActionLoaded, nil)
	img := object.NewImage(nifti.Stub(), "a.nii", "sub", "src", []object.Action{loaded})
	require.Nil(t, img.Source())

	first := img.Replace(action("resample", map[string]any{"p": 1}), object.WithSuffix("_r"))
	second := first.Replace(action("slice", nil), object.AddSubPath("mask_1"))

	assert.Len(t, first.Actions(), 2)
	assert.Len(t, second.Actions(), 3)
	assert.Equal(t, first.Actions(), second.Actions()[:2], "previous chain is a prefix")
	assert.Equal(t, "a_r.nii", second.Filename())
	assert.Equal(t, "sub/mask_1", second.SubPath())
	assert.Equal(t, "src", second.SourcePath())

	require.NotNil(t, second.Source())
	assert.Equal(t, "a.nii", second.Source().Filename, "source frozen at first transformation")
	assert.Len(t, second.Source().Actions, 1)
	assert.Len(t, img.Actions(), 1, "original untouched")
}

func TestFanOutChainsDoNotAlias(t *testing.T) {
	base := object.NewImage(nifti.Stub(), "a.nii", "", "", []object.Action{action("loaded", nil)})
	mid := base.Replace(action("step", nil))
	left := mid.Replace(action("mask_1", nil))
	right := mid.Replace(action("mask_2", nil))

	assert.Equal(t, "mask_1", left.Actions()[2].Name)
	assert.Equal(t, "mask_2", right.Actions()[2].Name)
}

func TestSameStepNormalizesNumbers(t *testing.T) {
	inMemory := action("resample", map[string]any{"output_percent": 50.0, "output_x": 32})

	raw, err := json.Marshal(inMemory)
	require.NoError(t, err)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded object.Action
	require.NoError(t, dec.Decode(&decoded))

	assert.True(t, inMemory.SameStep(decoded))
	decoded.Data["mtime"] = json.Number("1")
	assert.True(t, inMemory.SameStep(decoded), "data is ignored")

	changed := action("resample", map[string]any{"output_percent": 25.0, "output_x": 32})
	assert.False(t, inMemory.SameStep(changed))
	assert.False(t, object.ChainsMatch([]object.Action{inMemory}, []object.Action{inMemory, inMemory}))
}

func TestDescriptorKeepsNanosecondMtime(t *testing.T) {
	const mtime int64 = 1712345678123456789
	img := object.NewImage(nifti.Stub(), "a.nii", "", "", []object.Action{{
		Name: object.ActionLoaded, Module: map[string]any{}, Data: map[string]any{"filename": "src/a.nii", "mtime": mtime},
	}})
	raw, err := json.Marshal(img.Descriptor())
	require.NoError(t, err)

	d, err := object.DecodeDescriptor(raw)
	require.NoError(t, err)
	got, ok := d.Actions[0].Int64("mtime")
	require.True(t, ok)
	assert.Equal(t, mtime, got)
	assert.Equal(t, "src/a.nii", d.SourceFilename())
	assert.Equal(t, object.ClassImage, d.ObjectClass)
	assert.Nil(t, d.Source)
}

func TestFileBytesAndImages(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("hello"))
	require.NoError(t, zw.Close())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "in"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in", "notes.txt.gz"), buf.Bytes(), 0o644))

	f := object.NewDiskFile(dir, "notes.txt.gz", "", "in", nil)
	content, err := f.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
	raw, err := f.RawBytes()
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), raw)

	img, err := f.AsImage(false)
	require.NoError(t, err)
	assert.Nil(t, img, "text files are not images")

	stubFile := object.NewDiskFile(dir, "missing.nii.gz", "", "in", nil)
	stub, err := stubFile.AsImage(true)
	require.NoError(t, err, "stub mode reads nothing")
	assert.Equal(t, []int{8, 8, 8}, stub.Shape())

	mem := f.Replace(action("render", nil), object.WithContent([]byte("x")), object.WithFilename("x.txt"))
	assert.Equal(t, object.ClassFileMemory, mem.Descriptor().ObjectClass)
	assert.Equal(t, object.ClassFileDisk, mem.Source().ObjectClass)
}

func TestWalkTarSkipsDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.tar")
	out, err := os.Create(path)
	require.NoError(t, err)
	tw := tar.NewWriter(out)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755}))
	for _, name := range []string{"dir/a.nii", "b.nii"} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: 3}))
		_, err := tw.Write([]byte("abc"))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, out.Close())

	var names []string
	require.NoError(t, object.WalkTar(path, false, func(name string, content []byte) error {
		names = append(names, name)
		assert.Equal(t, "abc", string(content))
		return nil
	}))
	assert.Equal(t, []string{"dir/a.nii", "b.nii"}, names)

	n, err := object.CountTar(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	member := object.NewTarFile("bundle.tar", nil, "b.nii", "bundle_tar", "", nil)
	_, err = member.Bytes()
	assert.Error(t, err)
	assert.Equal(t, "bundle.tar", member.Descriptor().TarFilename)
}

func TestOpenDiskFilesAndArchiveMembers(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "scans"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "scans", "notes.txt"), []byte("hello"), 0o644))

	out, err := os.Create(filepath.Join(dataDir, "scans", "bundle.tar"))
	require.NoError(t, err)
	tw := tar.NewWriter(out)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "dir/a.nii", Typeflag: tar.TypeReg, Mode: 0o644, Size: 3}))
	_, err = tw.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, out.Close())

	disk, err := object.Open(dataDir, "/scans/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, object.ClassFileDisk, disk.Class())
	assert.Equal(t, "scans", disk.SourcePath())
	content, err := disk.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	member, err := object.Open(dataDir, "scans/bundle.tar/dir/a.nii")
	require.NoError(t, err)
	assert.Equal(t, object.ClassFileMemory, member.Class())
	assert.Equal(t, "a.nii", member.Filename())
	assert.Equal(t, "bundle_tar", member.SubPath())
	assert.Equal(t, "scans", member.SourcePath())
	assert.True(t, member.IsImage())
	content, err = member.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))

	_, err = object.Open(dataDir, "scans/bundle.tar/missing.nii")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = object.Open(dataDir, "scans")
	assert.Error(t, err)
}

func TestFromDescriptorKeepsPathsAndRebuildsBacking(t *testing.T) {
	data := t.TempDir()
	stored := filepath.Join(data, "out", "copy", "sub", "notes.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stored), 0o755))
	require.NoError(t, os.WriteFile(stored, []byte("subject list"), 0o644))

	loaded := action(object.ActionLoaded, nil)
	loaded.Data["filename"] = "in/notes.txt"
	storedAction := action(object.ActionStored, nil)
	storedAction.Data["filename"] = "out/copy/sub/notes.txt"
	desc := object.Descriptor{
		ObjectClass: object.ClassFileMemory,
		DataType:    object.TypeFile,
		Actions:     []object.Action{loaded, storedAction},
		Filename:    "notes.txt",
		SubPath:     "sub",
		SourcePath:  "in",
	}

	rebuilt, err := object.FromDescriptor(data, desc)
	require.NoError(t, err)
	mem := rebuilt.(*object.File)
	assert.Equal(t, object.ClassFileMemory, mem.Class())
	_, onDisk := mem.DiskPath()
	assert.False(t, onDisk)
	content, err := mem.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "subject list", string(content))
	assert.Equal(t, "in", mem.Descriptor().SourcePath)
	assert.Equal(t, "sub", mem.SubPath())

	desc.ObjectClass = object.ClassFileDisk
	rebuilt, err = object.FromDescriptor(data, desc)
	require.NoError(t, err)
	disk := rebuilt.(*object.File)
	assert.Equal(t, object.ClassFileDisk, disk.Class())
	abs, ok := disk.DiskPath()
	require.True(t, ok)
	assert.Equal(t, stored, abs)
	assert.Equal(t, "in", disk.Descriptor().SourcePath)

	desc.Actions = desc.Actions[:1]
	_, err = object.FromDescriptor(data, desc)
	require.Error(t, err)
}
