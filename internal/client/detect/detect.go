// Package detect finds the changes made to the content store while no sync
// was running, by comparing it with the metadata sidecars, and records them
// as pending changes.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hcsync/hcs/internal/client/workspace"
	"github.com/hcsync/hcs/internal/proto"
	"golang.org/x/sync/errgroup"
)

const sidecarWorkers = 8

// Recorder persists a detected change.
type Recorder interface {
	Add(ctx context.Context, ev proto.ChangeEvent) (int64, error)
}

type Detector struct {
	workspace *workspace.Workspace
	recorder  Recorder
	ignore    *IgnoreList
}

func New(ws *workspace.Workspace, recorder Recorder, exclude []string) *Detector {
	return &Detector{
		workspace: ws,
		recorder:  recorder,
		ignore:    NewIgnoreList(ws.StorageDir, exclude),
	}
}

type entry struct {
	paths   workspace.FilePaths
	info    os.FileInfo
	meta    *workspace.Metadata
	corrupt bool
}

// key tells a file and a directory at the same path apart.
func key(p workspace.FilePaths) string {
	if p.IsDir {
		return p.Rel + "/"
	}
	return p.Rel
}

// Detect records every local change and brings the sidecars and view up to
// date with it. Deletions are recorded first, then creations and
// modifications with parents before children. Each change is recorded before
// its sidecar is refreshed: an interruption repeats a change, never loses it.
func (d *Detector) Detect(ctx context.Context) (int, error) {
	d.ignore.Load()

	entries, seen, err := d.scan(ctx)
	if err != nil {
		return 0, err
	}

	deleted, err := d.deletions(seen)
	if err != nil {
		return 0, err
	}

	recorded := 0
	for _, p := range deleted {
		if err := ctx.Err(); err != nil {
			return recorded, err
		}
		ev := proto.NewFileDelete(p.Rel)
		if p.IsDir {
			ev = proto.NewDirectoryDelete(p.Rel)
		}
		if err := d.record(ctx, ev); err != nil {
			return recorded, err
		}
		if err := d.forget(p); err != nil {
			return recorded, err
		}
		recorded++
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return recorded, err
		}
		ev, ok := classify(e)
		if !ok {
			continue
		}
		if err := d.record(ctx, ev); err != nil {
			return recorded, err
		}
		if err := d.refresh(e, ev); err != nil {
			return recorded, err
		}
		recorded++
	}

	slog.Info("detect", "changes", recorded, "entries", len(entries))
	return recorded, nil
}

func (d *Detector) scan(ctx context.Context) ([]*entry, mapset.Set[string], error) {
	var entries []*entry
	seen := mapset.NewThreadUnsafeSet[string]()

	err := d.workspace.WalkContent(func(p workspace.FilePaths, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.ignore.ShouldIgnore(p.Rel, p.IsDir) {
			if p.IsDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.IsDir && !info.Mode().IsRegular() {
			slog.Warn("detect skipping non-regular file", "path", p.Rel, "mode", info.Mode().String())
			return nil
		}
		seen.Add(key(p))
		entries = append(entries, &entry{paths: p, info: info})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan content store: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sidecarWorkers)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			meta, err := d.workspace.ReadMetadata(e.paths)
			if err != nil {
				slog.Warn("detect unreadable metadata", "path", e.paths.Rel, "error", err)
				e.corrupt = true
				return nil
			}
			e.meta = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return entries, seen, nil
}

// deletions returns the sidecars whose entry is gone, without the ones
// already covered by a deleted parent directory.
func (d *Detector) deletions(seen mapset.Set[string]) ([]workspace.FilePaths, error) {
	var orphans []workspace.FilePaths
	err := d.workspace.WalkMetadata(func(p workspace.FilePaths) error {
		if seen.Contains(key(p)) || d.ignore.ShouldIgnore(p.Rel, p.IsDir) {
			return nil
		}
		orphans = append(orphans, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan metadata: %w", err)
	}

	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Rel < orphans[j].Rel })

	deletedDirs := mapset.NewThreadUnsafeSet[string]()
	var out []workspace.FilePaths
	for _, p := range orphans {
		if coveredBy(deletedDirs, p.Rel) {
			continue
		}
		if p.IsDir {
			deletedDirs.Add(p.Rel)
		}
		out = append(out, p)
	}
	return out, nil
}

func coveredBy(dirs mapset.Set[string], rel string) bool {
	for {
		i := strings.LastIndexByte(rel, '/')
		if i < 0 {
			return false
		}
		rel = rel[:i]
		if dirs.Contains(rel) {
			return true
		}
	}
}

func classify(e *entry) (proto.ChangeEvent, bool) {
	p := e.paths
	if p.IsDir {
		if e.meta == nil && !e.corrupt {
			return proto.NewDirectoryCreate(p.Rel), true
		}
		return proto.ChangeEvent{}, false
	}

	size := uint64(e.info.Size())
	switch {
	case e.corrupt:
		return proto.NewFileModify(p.Rel, size), true
	case e.meta == nil:
		return proto.NewFileCreate(p.Rel, size), true
	case !e.info.ModTime().Equal(e.meta.LastModified):
		return proto.NewFileModify(p.Rel, size), true
	}
	return proto.ChangeEvent{}, false
}

func (d *Detector) record(ctx context.Context, ev proto.ChangeEvent) error {
	if _, err := d.recorder.Add(ctx, ev); err != nil {
		return fmt.Errorf("record %s: %w", ev, err)
	}
	slog.Debug("detect", "event", ev.Kind.String(), "path", ev.Path)
	return nil
}

func (d *Detector) refresh(e *entry, ev proto.ChangeEvent) error {
	p := e.paths
	if err := d.workspace.WriteMetadata(p); err != nil {
		return fmt.Errorf("refresh metadata %s: %w", p.Rel, err)
	}
	switch ev.Kind {
	case proto.DirectoryCreate:
		return d.workspace.MkdirView(p)
	case proto.FileCreate:
		return d.workspace.LinkView(p)
	}
	return nil
}

func (d *Detector) forget(p workspace.FilePaths) error {
	if err := d.workspace.RemoveMetadata(p); err != nil {
		return fmt.Errorf("remove metadata %s: %w", p.Rel, err)
	}
	if p.IsDir {
		return d.workspace.RemoveViewDir(p)
	}
	return d.workspace.UnlinkView(p)
}
