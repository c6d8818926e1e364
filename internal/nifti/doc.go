// Package nifti reads and writes single-file NIfTI-1 volumes (.nii, .nii.gz)
// and implements the voxel operations used by the image modules: resampling,
// slicing, concatenation, cropping and output type conversion.
//
// Voxel values are held as float64 in x-fastest order regardless of the
// on-disk data type. DataType records the type used when the volume is
// written back.
package nifti
