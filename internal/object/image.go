package object

import "voxelpipe/internal/nifti"

// Image is a volume item.
type Image struct {
	meta
	volume *nifti.Volume
}

var _ Object = (*Image)(nil)

// NewImage wraps a decoded volume.
func NewImage(vol *nifti.Volume, filename, subPath, sourcePath string, actions []Action) *Image {
	return &Image{meta: newMeta(filename, subPath, sourcePath, actions), volume: vol}
}

func (i *Image) DataType() DataType { return TypeImage }

// Volume returns the payload, or nil after Discard.
func (i *Image) Volume() *nifti.Volume { return i.volume }

// Shape returns the dimensions of the payload.
func (i *Image) Shape() []int {
	if i.volume == nil {
		return nil
	}
	return append([]int(nil), i.volume.Dims...)
}

func (i *Image) Descriptor() Descriptor {
	return i.describe(ClassImage, TypeImage)
}

func (i *Image) Discard() { i.volume = nil }

// Replace derives a new image with action appended. Without WithVolume the
// payload is shared with the receiver.
func (i *Image) Replace(action Action, opts ...ChangeOpt) *Image {
	next, change := i.derive(i.Descriptor(), action, opts)
	vol := i.volume
	if change.volume != nil {
		vol = change.volume
	}
	return &Image{meta: next, volume: vol}
}
