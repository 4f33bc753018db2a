package sync

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/hcsync/hcs/internal/client/workspace"
	"github.com/hcsync/hcs/internal/proto"
	"github.com/hcsync/hcs/internal/wire"
	"github.com/spf13/afero"
)

// apply performs one pulled change on the content store, the view and the
// metadata, in that order. Steps are not rolled back: the first failure is
// returned and leaves the earlier steps in place. skipped is true when the
// server withdrew the file before any of its content arrived.
func (se *SyncEngine) apply(ctx context.Context, s *session, ev proto.ChangeEvent) (skipped bool, err error) {
	ws := se.workspace

	switch ev.Kind {
	case proto.FileCreate, proto.FileModify:
		p, err := ws.FilePaths(ev.Path)
		if err != nil {
			return false, err
		}
		written, withdrawn, err := se.receiveContent(ctx, s, p, ev.Size)
		if err != nil {
			return false, err
		}
		if withdrawn && written == 0 {
			s.log.Info("sync", "op", "SKIPPED", "event", ev.Kind.String(), "path", ev.Path)
			return true, nil
		}
		if ev.Kind == proto.FileCreate {
			if err := ws.LinkView(p); err != nil {
				return false, err
			}
		}
		if err := ws.WriteMetadata(p); err != nil {
			return false, err
		}
		if withdrawn {
			s.log.Warn("sync", "op", "PARTIAL", "event", ev.Kind.String(), "path", ev.Path,
				"received", humanize.Bytes(written), "size", humanize.Bytes(ev.Size))
			return true, nil
		}

	case proto.FileDelete:
		p, err := ws.FilePaths(ev.Path)
		if err != nil {
			return false, err
		}
		if err := ws.RemoveContent(p); err != nil {
			return false, err
		}
		if err := ws.UnlinkView(p); err != nil {
			return false, err
		}
		if err := ws.RemoveMetadata(p); err != nil {
			return false, err
		}

	case proto.FileMove:
		from, to, err := movePaths(ws, ev, false)
		if err != nil {
			return false, err
		}
		if err := ws.MoveContent(from, to); err != nil {
			return false, err
		}
		if err := ws.UnlinkView(from); err != nil {
			return false, err
		}
		if err := ws.LinkView(to); err != nil {
			return false, err
		}
		if err := ws.MoveMetadata(from, to); err != nil {
			return false, err
		}

	case proto.DirectoryCreate:
		p, err := ws.DirPaths(ev.Path)
		if err != nil {
			return false, err
		}
		if err := ws.MkdirContent(p); err != nil {
			return false, err
		}
		if err := ws.MkdirView(p); err != nil {
			return false, err
		}
		if err := ws.WriteMetadata(p); err != nil {
			return false, err
		}

	case proto.DirectoryDelete:
		p, err := ws.DirPaths(ev.Path)
		if err != nil {
			return false, err
		}
		if err := ws.RemoveContent(p); err != nil {
			return false, err
		}
		if err := ws.RemoveViewDir(p); err != nil {
			return false, err
		}
		if err := ws.RemoveMetadata(p); err != nil {
			return false, err
		}

	case proto.DirectoryMove:
		from, to, err := movePaths(ws, ev, true)
		if err != nil {
			return false, err
		}
		if err := ws.MoveContent(from, to); err != nil {
			return false, err
		}
		if err := ws.MoveViewDir(from, to); err != nil {
			return false, err
		}
		if err := ws.MoveMetadata(from, to); err != nil {
			return false, err
		}

	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupported, ev.Kind)
	}

	s.log.Info("sync", "op", "PULL", "event", ev.Kind.String(), "path", eventPath(ev))
	return false, nil
}

func movePaths(ws *workspace.Workspace, ev proto.ChangeEvent, isDir bool) (from, to workspace.FilePaths, err error) {
	paths := ws.FilePaths
	if isDir {
		paths = ws.DirPaths
	}
	if from, err = paths(ev.FromPath); err != nil {
		return
	}
	to, err = paths(ev.ToPath)
	return
}

// receiveContent reads the NumChunks(size) content chunks that follow a file
// event. Every chunk is decoded first: a SkipCurrent means the server
// withdrew the file and reception stops, keeping what was written. Only a
// chunk that is not a control message is content. The file is created or
// truncated when the first content chunk arrives, so a withdrawal before
// any content leaves the local file untouched.
func (se *SyncEngine) receiveContent(ctx context.Context, s *session, p workspace.FilePaths, size uint64) (written uint64, withdrawn bool, err error) {
	s.state = StateReceivingContent

	var f afero.File
	defer func() {
		if f == nil {
			return
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for i := uint64(0); i < wire.NumChunks(size); i++ {
		chunk, err := s.ch.ReadNextChunk(ctx)
		if err != nil {
			return written, false, fmt.Errorf("receive content: %w", err)
		}

		// decode-first: content that happens to decode as a control
		// message is indistinguishable from one
		if t, derr := proto.Decode(chunk); derr == nil {
			if t.Is(proto.TypeSkipCurrent) {
				return written, true, nil
			}
			return written, false, s.unexpected(t)
		}

		if f == nil {
			if f, err = se.workspace.CreateContent(p); err != nil {
				return written, false, err
			}
		}
		n, err := f.Write(chunk)
		written += uint64(n)
		if err != nil {
			return written, false, err
		}
	}

	if f == nil {
		if f, err = se.workspace.CreateContent(p); err != nil {
			return 0, false, err
		}
	}
	return written, false, nil
}
