package workspace

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// WalkContent visits every entry of the content store, parents before
// children, in lexical order. fn may return filepath.SkipDir for directories.
// Entries whose names cannot be projected are skipped.
func (w *Workspace) WalkContent(fn func(p FilePaths, info os.FileInfo) error) error {
	return afero.Walk(w.fs, w.StorageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == w.StorageDir {
			return nil
		}
		rel, err := w.RelPath(path)
		if err != nil {
			return err
		}
		p, err := w.paths(rel, info.IsDir())
		if errors.Is(err, ErrInvalidPath) {
			slog.Warn("skipping unsyncable entry", "path", path, "error", err)
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err != nil {
			return err
		}
		return fn(p, info)
	})
}

// WalkMetadata visits every sidecar and reports the entry it describes.
// Files in the metadata tree that are not sidecars are skipped.
func (w *Workspace) WalkMetadata(fn func(p FilePaths) error) error {
	return afero.Walk(w.fs, w.MetadataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == w.MetadataDir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		metaRel, err := filepath.Rel(w.MetadataDir, path)
		if err != nil {
			return err
		}
		rel, isDir, ok := relFromMeta(metaRel)
		if !ok {
			return nil
		}
		p, err := w.paths(rel, isDir)
		if err != nil {
			slog.Warn("skipping sidecar", "path", path, "error", err)
			return nil
		}
		return fn(p)
	})
}

// ContentExists reports whether the content entry exists with the expected kind.
func (w *Workspace) ContentExists(p FilePaths) bool {
	info, _, err := w.fs.LstatIfPossible(p.Content)
	return err == nil && info.IsDir() == p.IsDir
}

// RepairReport counts what Repair changed.
type RepairReport struct {
	ViewsRestored   int
	ViewsRemoved    int
	MetadataWritten int
	MetadataRemoved int
}

// Repair reconciles the view and metadata projections with the content
// store. Sidecars it writes take the current mtime, so local changes must be
// detected before repairing or they will be missed.
func (w *Workspace) Repair(ctx context.Context) (*RepairReport, error) {
	report := &RepairReport{}

	err := w.WalkContent(func(p FilePaths, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.IsDir {
			if vi, err := w.fs.Stat(p.View); err != nil || !vi.IsDir() {
				if err := w.MkdirView(p); err != nil {
					return err
				}
				report.ViewsRestored++
			}
		} else if !w.ViewLinked(p) {
			if err := w.LinkView(p); err != nil {
				return err
			}
			report.ViewsRestored++
		}

		meta, err := w.ReadMetadata(p)
		if err != nil {
			slog.Warn("rewriting metadata", "path", p.Rel, "error", err)
		}
		if meta == nil {
			if err := w.WriteMetadata(p); err != nil {
				return err
			}
			report.MetadataWritten++
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	var orphans []FilePaths
	if err := w.WalkMetadata(func(p FilePaths) error {
		if !w.ContentExists(p) {
			orphans = append(orphans, p)
		}
		return nil
	}); err != nil {
		return report, err
	}
	for _, p := range orphans {
		// an orphaned directory sidecar already took its children with it
		if _, err := w.fs.Stat(p.Meta); err != nil {
			continue
		}
		if err := w.RemoveMetadata(p); err != nil {
			return report, err
		}
		report.MetadataRemoved++
	}

	err = afero.Walk(w.fs, w.ViewDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == w.ViewDir {
			return nil
		}
		rel, err := filepath.Rel(w.ViewDir, path)
		if err != nil {
			return err
		}

		switch {
		case info.IsDir():
			p, err := w.DirPaths(rel)
			if err != nil {
				return err
			}
			if !w.ContentExists(p) {
				report.ViewsRemoved++
				if err := w.RemoveViewDir(p); err != nil {
					return err
				}
				return filepath.SkipDir
			}
		case info.Mode()&os.ModeSymlink != 0:
			p, err := w.FilePaths(rel)
			if err != nil {
				return err
			}
			if !w.ContentExists(p) {
				report.ViewsRemoved++
				return w.UnlinkView(p)
			}
		default:
			slog.Warn("unexpected file in view", "path", path)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	slog.Info("repair", "viewsRestored", report.ViewsRestored, "viewsRemoved", report.ViewsRemoved,
		"metadataWritten", report.MetadataWritten, "metadataRemoved", report.MetadataRemoved)
	return report, nil
}
