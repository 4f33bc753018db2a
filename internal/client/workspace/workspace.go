// Package workspace projects every synced entry onto three roots: the content
// store holding the bytes, the view exposing links to them, and the metadata
// tree holding one sidecar per entry.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/hcsync/hcs/internal/utils"
	"github.com/spf13/afero"
)

const (
	lockFile       = "hcs.lock"
	logsDir        = "logs"
	defaultMetaDir = "metadata"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
)

// fileSystem is the subset of afero used here. Views are symlinks, so the
// backing filesystem must support them.
type fileSystem interface {
	afero.Fs
	afero.Symlinker
}

// Dirs are the configured roots. Metadata defaults to <Data>/metadata.
type Dirs struct {
	Data     string
	Storage  string
	View     string
	Metadata string
}

type Workspace struct {
	DataDir     string
	StorageDir  string
	ViewDir     string
	MetadataDir string
	LogsDir     string

	fs    fileSystem
	flock *flock.Flock
}

func NewWorkspace(dirs Dirs) (*Workspace, error) {
	if dirs.Metadata == "" && dirs.Data != "" {
		dirs.Metadata = filepath.Join(dirs.Data, defaultMetaDir)
	}

	resolved := make([]string, 4)
	for i, dir := range []string{dirs.Data, dirs.Storage, dirs.View, dirs.Metadata} {
		p, err := utils.ResolvePath(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %q: %w", dir, err)
		}
		resolved[i] = p
	}

	return &Workspace{
		DataDir:     resolved[0],
		StorageDir:  resolved[1],
		ViewDir:     resolved[2],
		MetadataDir: resolved[3],
		LogsDir:     filepath.Join(resolved[0], logsDir),
		fs:          afero.NewOsFs().(fileSystem),
		flock:       flock.New(filepath.Join(resolved[0], lockFile)),
	}, nil
}

// Lock prevents a second process from touching the same local state.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.DataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.DataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// never remove a lock held by someone else
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup creates the roots.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.DataDir, w.StorageDir, w.ViewDir, w.MetadataDir, w.LogsDir} {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	slog.Debug("workspace", "storage", w.StorageDir, "view", w.ViewDir, "metadata", w.MetadataDir)
	return nil
}

// FilePaths projects a file's relative path.
func (w *Workspace) FilePaths(rel string) (FilePaths, error) {
	return w.paths(rel, false)
}

// DirPaths projects a directory's relative path.
func (w *Workspace) DirPaths(rel string) (FilePaths, error) {
	return w.paths(rel, true)
}

func (w *Workspace) paths(rel string, isDir bool) (FilePaths, error) {
	clean, err := CleanRel(rel)
	if err != nil {
		return FilePaths{}, err
	}

	// a directory named like a sidecar would share its metadata path with
	// the sidecar of a sibling file
	parts := strings.Split(clean, "/")
	dirs := parts[:len(parts)-1]
	if isDir {
		dirs = parts
	}
	for _, d := range dirs {
		if strings.HasSuffix(d, metaSuffix) {
			return FilePaths{}, fmt.Errorf("%w: reserved directory name %q", ErrInvalidPath, d)
		}
	}

	native := filepath.FromSlash(clean)

	meta := filepath.Join(w.MetadataDir, native+metaSuffix)
	if isDir {
		meta = filepath.Join(w.MetadataDir, native, dirMetaName)
	}

	return FilePaths{
		Rel:     clean,
		Content: filepath.Join(w.StorageDir, native),
		View:    filepath.Join(w.ViewDir, native),
		Meta:    meta,
		IsDir:   isDir,
	}, nil
}

// RelPath returns the relative path of an absolute path inside the content store.
func (w *Workspace) RelPath(contentPath string) (string, error) {
	rel, err := filepath.Rel(w.StorageDir, contentPath)
	if err != nil {
		return "", err
	}
	return CleanRel(rel)
}
