package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hcsync/hcs/internal/client/changes"
	"github.com/hcsync/hcs/internal/proto"
	"github.com/hcsync/hcs/internal/wire"
)

// ErrContentChanged means a file shrank while it was being sent.
var ErrContentChanged = errors.New("file changed during transfer")

type PushResult struct {
	Sent    int
	Bytes   uint64
	Version int64
}

// Push sends every pending change to the server. A change is committed only
// after the server acknowledged it with a new version, so an aborted push
// leaves the rest pending for the next one.
func (se *SyncEngine) Push(ctx context.Context) (*PushResult, error) {
	start := time.Now()

	s, err := openSession(ctx, se.dial, se.clientID, "push")
	if err != nil {
		return nil, err
	}
	defer s.close()

	records, err := se.changes.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending changes: %w", err)
	}

	known := se.cursor.Current()
	s.state = StateSendingSyncHeader
	if err := s.send(ctx, proto.NewSyncClientToServer(known, len(records))); err != nil {
		return nil, err
	}

	s.state = StateAwaitPushPermission
	t, err := s.recv(ctx)
	if err != nil {
		return nil, err
	}
	switch t.Type {
	case proto.TypeProceed:
	case proto.TypeServerVersion:
		sv, _ := t.ServerVersion()
		s.log.Warn("push rejected", "known", known, "server", sv.Version)
		return nil, fmt.Errorf("%w: known version %d, server version %d", ErrPullRequired, known, sv.Version)
	default:
		return nil, s.unexpected(t)
	}

	result := &PushResult{Version: known}
	for _, rec := range records {
		sent, err := se.pushChange(ctx, s, rec)
		if err != nil {
			return result, fmt.Errorf("push %s: %w", rec.Event, err)
		}
		result.Sent++
		result.Bytes += sent
		result.Version = se.cursor.Current()
	}

	s.state = StateDone
	s.log.Info("push complete", "changes", result.Sent, "size", humanize.Bytes(result.Bytes),
		"version", result.Version, "took", time.Since(start))
	return result, nil
}

func (se *SyncEngine) pushChange(ctx context.Context, s *session, rec changes.Record) (uint64, error) {
	s.state = StateStreamingChange
	ev := rec.Event

	var content io.ReadCloser
	if ev.Kind.CarriesContent() {
		p, err := se.workspace.FilePaths(ev.Path)
		if err != nil {
			return 0, err
		}
		f, err := se.workspace.OpenContent(p)
		if err != nil {
			return 0, err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		if info.IsDir() {
			return 0, fmt.Errorf("%s is a directory", ev.Path)
		}
		// the size recorded at detection time may be stale
		ev.Size = uint64(info.Size())
		content = f
	}

	if err := s.send(ctx, proto.NewChangeEvent(ev)); err != nil {
		return 0, err
	}
	if content != nil {
		if err := sendContent(ctx, s.ch, content, ev.Size); err != nil {
			return 0, err
		}
	}

	s.state = StateAwaitChangeAck
	t, err := s.recv(ctx)
	if err != nil {
		return 0, err
	}
	sv, ok := t.ServerVersion()
	if !ok {
		return 0, s.unexpected(t)
	}
	if err := se.advance(s, sv.Version); err != nil {
		return 0, err
	}

	if err := se.changes.Commit(ctx, rec.ID); err != nil {
		return 0, fmt.Errorf("commit change %d: %w", rec.ID, err)
	}
	s.log.Info("sync", "op", "PUSH", "event", ev.Kind.String(), "path", eventPath(ev),
		"size", humanize.Bytes(ev.Size), "version", sv.Version)
	return ev.Size, nil
}

// sendContent streams exactly NumChunks(size) chunks read from r.
func sendContent(ctx context.Context, ch wire.Channel, r io.Reader, size uint64) error {
	buf := make([]byte, wire.ChunkSize)
	remaining := size
	for i := uint64(0); i < wire.NumChunks(size); i++ {
		n := min(remaining, uint64(len(buf)))
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: expected %d bytes", ErrContentChanged, size)
			}
			return fmt.Errorf("read content: %w", err)
		}
		if err := ch.Write(ctx, buf[:n]); err != nil {
			return fmt.Errorf("send content: %w", err)
		}
		remaining -= n
	}
	return nil
}

func eventPath(ev proto.ChangeEvent) string {
	if ev.Kind.IsMove() {
		return ev.FromPath + " -> " + ev.ToPath
	}
	return ev.Path
}
