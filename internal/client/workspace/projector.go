package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
)

// The operations below each touch one projection. None of them is atomic
// with respect to the others: callers sequence them and surface the first
// error, leaving whatever already happened in place.

// Metadata is the sidecar content.
type Metadata struct {
	LastModified time.Time `json:"last_modified"`
}

// CreateContent creates or truncates the content file, creating parents.
func (w *Workspace) CreateContent(p FilePaths) (afero.File, error) {
	if err := w.fs.MkdirAll(filepath.Dir(p.Content), 0o755); err != nil {
		return nil, err
	}
	return w.fs.Create(p.Content)
}

func (w *Workspace) OpenContent(p FilePaths) (afero.File, error) {
	return w.fs.Open(p.Content)
}

func (w *Workspace) StatContent(p FilePaths) (os.FileInfo, error) {
	return w.fs.Stat(p.Content)
}

func (w *Workspace) MkdirContent(p FilePaths) error {
	return w.fs.MkdirAll(p.Content, 0o755)
}

func (w *Workspace) RemoveContent(p FilePaths) error {
	if p.IsDir {
		return w.fs.RemoveAll(p.Content)
	}
	return w.fs.Remove(p.Content)
}

func (w *Workspace) MoveContent(from, to FilePaths) error {
	return w.rename(from.Content, to.Content)
}

// WriteMetadata records the live mtime of the content entry.
func (w *Workspace) WriteMetadata(p FilePaths) error {
	info, err := w.fs.Stat(p.Content)
	if err != nil {
		return err
	}

	data, err := json.Marshal(Metadata{LastModified: info.ModTime()})
	if err != nil {
		return err
	}
	if err := w.fs.MkdirAll(filepath.Dir(p.Meta), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(w.fs, p.Meta, data, 0o644)
}

// ReadMetadata returns nil without error when the sidecar does not exist.
func (w *Workspace) ReadMetadata(p FilePaths) (*Metadata, error) {
	data, err := afero.ReadFile(w.fs, p.Meta)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt metadata %s: %w", p.Meta, err)
	}
	return &m, nil
}

// RemoveMetadata deletes the sidecar, and for directories every sidecar below it.
func (w *Workspace) RemoveMetadata(p FilePaths) error {
	if p.IsDir {
		return w.fs.RemoveAll(p.metaEntry())
	}
	return ignoreNotExist(w.fs.Remove(p.Meta))
}

func (w *Workspace) MoveMetadata(from, to FilePaths) error {
	return w.rename(from.metaEntry(), to.metaEntry())
}

// LinkView points the view entry at the content file, replacing a stale link.
func (w *Workspace) LinkView(p FilePaths) error {
	if err := w.fs.MkdirAll(filepath.Dir(p.View), 0o755); err != nil {
		return err
	}
	if info, _, err := w.fs.LstatIfPossible(p.View); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			return &os.LinkError{Op: "symlink", Old: p.Content, New: p.View, Err: fs.ErrExist}
		}
		if err := w.fs.Remove(p.View); err != nil {
			return err
		}
	}
	return w.fs.SymlinkIfPossible(p.Content, p.View)
}

// ViewLinked reports whether the view entry is a link to the content file.
func (w *Workspace) ViewLinked(p FilePaths) bool {
	target, err := w.fs.ReadlinkIfPossible(p.View)
	return err == nil && target == p.Content
}

func (w *Workspace) UnlinkView(p FilePaths) error {
	return ignoreNotExist(w.fs.Remove(p.View))
}

func (w *Workspace) MkdirView(p FilePaths) error {
	return w.fs.MkdirAll(p.View, 0o755)
}

func (w *Workspace) RemoveViewDir(p FilePaths) error {
	return w.fs.RemoveAll(p.View)
}

// MoveViewDir renames a mirrored directory and re-points the links below it,
// which still target the old content location.
func (w *Workspace) MoveViewDir(from, to FilePaths) error {
	if err := w.rename(from.View, to.View); err != nil {
		return err
	}
	return w.relinkBelow(to)
}

func (w *Workspace) relinkBelow(dir FilePaths) error {
	return afero.Walk(w.fs, dir.Content, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := w.RelPath(path)
		if err != nil {
			return err
		}
		p, err := w.FilePaths(rel)
		if err != nil {
			return err
		}
		return w.LinkView(p)
	})
}

// rename replaces an existing file at the destination like rename(2), but
// refuses to move onto or over a directory.
func (w *Workspace) rename(from, to string) error {
	if dst, _, err := w.fs.LstatIfPossible(to); err == nil {
		src, _, err := w.fs.LstatIfPossible(from)
		if err != nil {
			return err
		}
		if dst.IsDir() || src.IsDir() {
			return &os.LinkError{Op: "rename", Old: from, New: to, Err: fs.ErrExist}
		}
	}
	if err := w.fs.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	return w.fs.Rename(from, to)
}

func ignoreNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
