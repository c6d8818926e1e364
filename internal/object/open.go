package object

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var errMemberFound = errors.New("member found")

// Open returns the file at a data-relative path. A path running through an
// archive, such as "scans/batch.tar/a.nii", opens that member and holds its
// content in memory.
func Open(dataDir, rel string) (*File, error) {
	rel = cleanSubPath(path.Clean("/" + filepath.ToSlash(rel))[1:])
	if rel == "" {
		return nil, fmt.Errorf("open: empty path")
	}

	segments := strings.Split(rel, "/")
	for i, seg := range segments[:len(segments)-1] {
		if !IsTarFilename(seg) {
			continue
		}
		tarRel := strings.Join(segments[:i+1], "/")
		info, err := os.Stat(filepath.Join(dataDir, filepath.FromSlash(tarRel)))
		if err != nil || info.IsDir() {
			continue
		}
		return openMember(dataDir, tarRel, strings.Join(segments[i+1:], "/"))
	}

	abs := filepath.Join(dataDir, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open %s: is a directory", rel)
	}
	return NewDiskFile(dataDir, path.Base(rel), "", cleanSubPath(path.Dir(rel)), nil), nil
}

func openMember(dataDir, tarRel, member string) (*File, error) {
	var content []byte
	err := WalkTar(filepath.Join(dataDir, filepath.FromSlash(tarRel)), false, func(name string, data []byte) error {
		if path.Clean(name) != member {
			return nil
		}
		content = data
		return errMemberFound
	})
	if err != nil && !errors.Is(err, errMemberFound) {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("open %s: no member %s: %w", tarRel, member, os.ErrNotExist)
	}
	return NewMemoryFile(content, path.Base(member), TarSubPath(tarRel), cleanSubPath(path.Dir(tarRel)), nil), nil
}
