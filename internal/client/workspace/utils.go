package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	metaSuffix  = ".meta.json"
	dirMetaName = ".meta.json"
)

var ErrInvalidPath = errors.New("invalid relative path")

// FilePaths is one logical entry projected onto the three roots.
type FilePaths struct {
	Rel     string
	Content string
	View    string
	Meta    string
	IsDir   bool
}

// metaEntry is what moves or disappears with the entry in the metadata tree:
// the sidecar file for a file, the sidecar directory for a directory.
func (p FilePaths) metaEntry() string {
	if p.IsDir {
		return filepath.Dir(p.Meta)
	}
	return p.Meta
}

// NormPath normalizes a path by cleaning it, replacing backslashes with slashes, and trimming leading slashes
func NormPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimLeft(path, "/")
	return path
}

// CleanRel normalizes rel and rejects paths that are empty or escape a root.
func CleanRel(rel string) (string, error) {
	p := NormPath(rel)
	if p == "" || p == "." || !filepath.IsLocal(filepath.FromSlash(p)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return p, nil
}

// relFromMeta maps a sidecar path relative to the metadata root back to the
// entry it describes.
func relFromMeta(metaRel string) (rel string, isDir bool, ok bool) {
	metaRel = filepath.ToSlash(metaRel)
	base := metaRel
	if i := strings.LastIndexByte(metaRel, '/'); i >= 0 {
		base = metaRel[i+1:]
	}
	switch {
	case base == dirMetaName:
		dir := strings.TrimSuffix(strings.TrimSuffix(metaRel, dirMetaName), "/")
		if dir == "" {
			return "", false, false
		}
		return dir, true, true
	case strings.HasSuffix(base, metaSuffix):
		return strings.TrimSuffix(metaRel, metaSuffix), false, true
	}
	return "", false, false
}
