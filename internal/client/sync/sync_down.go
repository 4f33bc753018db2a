package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/hcsync/hcs/internal/proto"
)

type PullResult struct {
	Applied int
	Skipped int
	Version int64
}

// Pull receives and applies the server's changes since the known version
// until the server completes the transaction. The cursor is advanced after
// each acknowledged change, so an aborted pull resumes from the last
// version that was fully applied.
func (se *SyncEngine) Pull(ctx context.Context) (*PullResult, error) {
	start := time.Now()

	s, err := openSession(ctx, se.dial, se.clientID, "pull")
	if err != nil {
		return nil, err
	}
	defer s.close()

	s.state = StateSendingSyncHeader
	if err := s.send(ctx, proto.NewSyncServerToClient(se.cursor.Current())); err != nil {
		return nil, err
	}

	result := &PullResult{}
	done := false
	for !done {
		s.state = StateReceiveLoop
		t, err := s.recv(ctx)
		if err != nil {
			return se.pullResult(result), err
		}

		switch t.Type {
		case proto.TypeChangeEvent:
			ev, _ := t.ChangeEvent()
			skipped, err := se.apply(ctx, s, ev)
			if err != nil {
				return se.pullResult(result), fmt.Errorf("apply %s: %w", ev, err)
			}
			if skipped {
				result.Skipped++
				continue
			}
			result.Applied++

			s.state = StateAwaitVersionOrComplete
			t, err = s.recv(ctx)
			if err != nil {
				return se.pullResult(result), err
			}
			switch t.Type {
			case proto.TypeServerVersion:
				sv, _ := t.ServerVersion()
				if err := se.advance(s, sv.Version); err != nil {
					return se.pullResult(result), err
				}
			case proto.TypeTransactionComplete:
				done = true
			default:
				return se.pullResult(result), s.unexpected(t)
			}

		case proto.TypeServerVersion:
			sv, _ := t.ServerVersion()
			if err := se.advance(s, sv.Version); err != nil {
				return se.pullResult(result), err
			}

		case proto.TypeSkipCurrent:
			s.log.Debug("sync", "op", "SKIP", "state", s.state.String())

		case proto.TypeTransactionComplete:
			done = true

		default:
			return se.pullResult(result), s.unexpected(t)
		}
	}

	s.state = StateDone
	se.pullResult(result)
	s.log.Info("pull complete", "applied", result.Applied, "skipped", result.Skipped,
		"version", result.Version, "took", time.Since(start))
	return result, nil
}

func (se *SyncEngine) pullResult(r *PullResult) *PullResult {
	r.Version = se.cursor.Current()
	return r
}
