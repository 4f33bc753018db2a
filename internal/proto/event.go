package proto

import (
	"errors"
	"fmt"
)

// EventKind identifies a single filesystem mutation.
type EventKind uint8

const (
	FileCreate EventKind = iota + 1
	FileModify
	FileDelete
	FileMove
	FileUndoDelete
	DirectoryCreate
	DirectoryDelete
	DirectoryMove
	DirectoryUndoDelete
	Symlink
)

var ErrInvalidEvent = errors.New("invalid change event")

func (k EventKind) String() string {
	switch k {
	case FileCreate:
		return "file.create"
	case FileModify:
		return "file.modify"
	case FileDelete:
		return "file.delete"
	case FileMove:
		return "file.move"
	case FileUndoDelete:
		return "file.undo_delete"
	case DirectoryCreate:
		return "dir.create"
	case DirectoryDelete:
		return "dir.delete"
	case DirectoryMove:
		return "dir.move"
	case DirectoryUndoDelete:
		return "dir.undo_delete"
	case Symlink:
		return "symlink"
	default:
		return fmt.Sprintf("???(%d)", k)
	}
}

// IsFile reports whether the kind belongs to the file family.
func (k EventKind) IsFile() bool {
	return k >= FileCreate && k <= FileUndoDelete
}

// IsDirectory reports whether the kind belongs to the directory family.
func (k EventKind) IsDirectory() bool {
	return k >= DirectoryCreate && k <= DirectoryUndoDelete
}

// IsMove reports whether the kind renames an entry.
func (k EventKind) IsMove() bool {
	return k == FileMove || k == DirectoryMove
}

// CarriesContent reports whether raw content chunks follow the event on the wire.
func (k EventKind) CarriesContent() bool {
	return k == FileCreate || k == FileModify
}

// Supported is false for the kinds that have no defined filesystem semantics.
func (k EventKind) Supported() bool {
	switch k {
	case FileUndoDelete, DirectoryUndoDelete, Symlink:
		return false
	}
	return k >= FileCreate && k <= Symlink
}

// ChangeEvent is one create/modify/delete/move of a file or directory.
// Path is set for every kind except moves, which use FromPath and ToPath.
// Size is only meaningful for FileCreate and FileModify.
type ChangeEvent struct {
	Kind     EventKind `msgpack:"kind" json:"kind"`
	Path     string    `msgpack:"path,omitempty" json:"path,omitempty"`
	FromPath string    `msgpack:"from,omitempty" json:"from,omitempty"`
	ToPath   string    `msgpack:"to,omitempty" json:"to,omitempty"`
	Size     uint64    `msgpack:"size,omitempty" json:"size,omitempty"`
}

func NewFileCreate(path string, size uint64) ChangeEvent {
	return ChangeEvent{Kind: FileCreate, Path: path, Size: size}
}

func NewFileModify(path string, size uint64) ChangeEvent {
	return ChangeEvent{Kind: FileModify, Path: path, Size: size}
}

func NewFileDelete(path string) ChangeEvent {
	return ChangeEvent{Kind: FileDelete, Path: path}
}

func NewFileMove(from, to string) ChangeEvent {
	return ChangeEvent{Kind: FileMove, FromPath: from, ToPath: to}
}

func NewDirectoryCreate(path string) ChangeEvent {
	return ChangeEvent{Kind: DirectoryCreate, Path: path}
}

func NewDirectoryDelete(path string) ChangeEvent {
	return ChangeEvent{Kind: DirectoryDelete, Path: path}
}

func NewDirectoryMove(from, to string) ChangeEvent {
	return ChangeEvent{Kind: DirectoryMove, FromPath: from, ToPath: to}
}

// Paths returns every relative path the event touches.
func (e ChangeEvent) Paths() []string {
	if e.Kind.IsMove() {
		return []string{e.FromPath, e.ToPath}
	}
	if e.Path == "" {
		return nil
	}
	return []string{e.Path}
}

// Validate checks that the fields required by the kind are present.
// Unsupported kinds are valid here; applying them is what fails.
func (e ChangeEvent) Validate() error {
	switch {
	case e.Kind.IsMove():
		if e.FromPath == "" || e.ToPath == "" {
			return fmt.Errorf("%w: %s requires from and to paths", ErrInvalidEvent, e.Kind)
		}
	case e.Kind == Symlink:
		return nil
	case e.Kind.IsFile() || e.Kind.IsDirectory():
		if e.Path == "" {
			return fmt.Errorf("%w: %s requires a path", ErrInvalidEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidEvent, e.Kind)
	}
	return nil
}

func (e ChangeEvent) String() string {
	switch {
	case e.Kind.IsMove():
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.FromPath, e.ToPath)
	case e.Kind.CarriesContent():
		return fmt.Sprintf("%s %s (%d bytes)", e.Kind, e.Path, e.Size)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Path)
	}
}
