// Package sync runs the push and pull transactions against the server and
// applies pulled changes to the workspace.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/hcsync/hcs/internal/client/changes"
	"github.com/hcsync/hcs/internal/client/cursor"
	"github.com/hcsync/hcs/internal/client/workspace"
	"github.com/hcsync/hcs/internal/wire"
)

// VersionCursor tracks the last server version the client has observed.
type VersionCursor interface {
	Current() int64
	Set(v int64) error
}

// ChangeSource serves pending outbound changes in order and commits them
// once the server has acknowledged them.
type ChangeSource interface {
	Pending(ctx context.Context) ([]changes.Record, error)
	Commit(ctx context.Context, id int64) error
}

type SyncEngine struct {
	workspace *workspace.Workspace
	cursor    VersionCursor
	changes   ChangeSource
	dial      DialFunc
	clientID  string
}

func NewSyncEngine(
	workspace *workspace.Workspace,
	cursor VersionCursor,
	changes ChangeSource,
	dial DialFunc,
	clientID string,
) *SyncEngine {
	return &SyncEngine{
		workspace: workspace,
		cursor:    cursor,
		changes:   changes,
		dial:      dial,
		clientID:  clientID,
	}
}

// Dialer returns a DialFunc connecting to addr with opts.
func Dialer(addr string, opts ...wire.Option) DialFunc {
	return func(ctx context.Context) (wire.Channel, error) {
		return wire.Dial(ctx, addr, opts...)
	}
}

// advance moves the cursor to a version acknowledged by the server. A
// version lower than the current one is a protocol violation.
func (se *SyncEngine) advance(s *session, v int64) error {
	err := se.cursor.Set(v)
	if errors.Is(err, cursor.ErrVersionRegression) {
		return &ProtocolError{State: s.state, Err: err}
	}
	if err != nil {
		return fmt.Errorf("update server version: %w", err)
	}
	return nil
}
