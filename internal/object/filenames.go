package object

import (
	"path"
	"strings"

	"voxelpipe/internal/fileutil"
)

// AddToFilename prepends prefix to the base name and inserts suffix before the
// first "." of the base name: "a.nii.gz" + "_sm" -> "a_sm.nii.gz".
func AddToFilename(filename, prefix, suffix string) string {
	dir, base := path.Split(filename)
	if prefix != "" {
		base = prefix + base
	}
	if suffix != "" {
		head, rest, found := strings.Cut(base, ".")
		if found {
			base = head + suffix + "." + rest
		} else {
			base = head + suffix
		}
	}
	return dir + base
}

// StripCompressionExt removes a trailing .gz or .bz2.
func StripCompressionExt(name string) string {
	return name[:len(name)-len(fileutil.CompressionExt(name))]
}

// StripExt removes the last extension.
func StripExt(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// IsTarFilename reports whether name is a traversable archive.
func IsTarFilename(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tar") || strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz")
}

// TarSubPath is the sub path assigned to members of the archive tarName.
func TarSubPath(tarName string) string {
	base := path.Base(tarName)
	if strings.HasSuffix(strings.ToLower(base), ".tgz") {
		return base[:len(base)-4] + "_tar"
	}
	return StripExt(StripCompressionExt(base)) + "_tar"
}

func cleanSubPath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return path.Clean(p)
}
