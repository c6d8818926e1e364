package source

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// scanDirectory returns the slash-separated paths below root that match
// pattern, sorted. "**" matches any number of directories when recursive is
// set and behaves like "*" otherwise. Hidden entries only match segments that
// start with a dot themselves. Files ending in skipSuffix are left out.
func scanDirectory(root, pattern string, recursive bool, skipSuffix string) ([]string, error) {
	pattern = strings.Trim(filepath.ToSlash(pattern), "/")
	if pattern == "" {
		pattern = "*"
	}
	if recursive && !strings.Contains(pattern, "**") {
		pattern = "**/" + pattern
	}
	segments := strings.Split(pattern, "/")
	maxDepth := len(segments)
	if recursive {
		for _, seg := range segments {
			if seg == "**" {
				maxDepth = -1
				break
			}
		}
	}

	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if maxDepth >= 0 && strings.Count(rel, "/")+1 >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if skipSuffix != "" && strings.HasSuffix(rel, skipSuffix) {
			return nil
		}
		if matchSegments(segments, strings.Split(rel, "/"), recursive) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func matchSegments(pattern, name []string, recursive bool) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" && recursive {
		for i := 0; i <= len(name); i++ {
			if i > 0 && hidden(name[i-1], "**") {
				return false
			}
			if matchSegments(pattern[1:], name[i:], recursive) {
				return true
			}
		}
		return false
	}
	if len(name) == 0 {
		return false
	}
	if hidden(name[0], pattern[0]) {
		return false
	}
	if ok, err := path.Match(pattern[0], name[0]); err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], name[1:], recursive)
}

func hidden(name, pattern string) bool {
	return strings.HasPrefix(name, ".") && !strings.HasPrefix(pattern, ".")
}
