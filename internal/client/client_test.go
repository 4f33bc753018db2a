package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/hcsync/hcs/internal/client/config"
	"github.com/hcsync/hcs/internal/client/sync"
	"github.com/hcsync/hcs/internal/client/workspace"
	"github.com/hcsync/hcs/internal/proto"
	"github.com/hcsync/hcs/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	tmp := t.TempDir()
	cfg := &config.Config{
		DataDir:    filepath.Join(tmp, "data"),
		StorageDir: filepath.Join(tmp, "storage"),
		ViewDir:    filepath.Join(tmp, "view"),
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

// scriptedServer answers each dialed session with the next script.
func scriptedServer(t *testing.T, scripts ...func(ch wire.Channel) error) sync.DialFunc {
	t.Helper()
	next := 0
	return func(ctx context.Context) (wire.Channel, error) {
		if next >= len(scripts) {
			return nil, fmt.Errorf("no session %d scripted", next)
		}
		script := scripts[next]
		next++

		client, server := net.Pipe()
		go func() {
			ch := wire.NewStreamChannel(server)
			defer ch.Close()
			if err := script(ch); err != nil {
				t.Errorf("server: %v", err)
			}
		}()
		return wire.NewStreamChannel(client), nil
	}
}

func recv(ch wire.Channel) (*proto.Transmission, error) {
	chunk, err := ch.ReadNextChunk(context.Background())
	if err != nil {
		return nil, err
	}
	return proto.Decode(chunk)
}

func send(ch wire.Channel, t *proto.Transmission) error {
	data, err := proto.Encode(t)
	if err != nil {
		return err
	}
	return ch.Write(context.Background(), data)
}

func TestClient_DetectAndRepair(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	c, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(cfg.StorageDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StorageDir, "a.txt"), []byte("a"), 0o644))

	n, err := c.Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// lose the view link, repair brings it back
	require.NoError(t, os.Remove(filepath.Join(cfg.ViewDir, "a.txt")))
	report, err := c.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ViewsRestored)

	target, err := os.Readlink(filepath.Join(cfg.ViewDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.StorageDir, "a.txt"), target)
}

func TestClient_CommandsAreExclusive(t *testing.T) {
	cfg := newTestConfig(t)
	c, err := New(cfg)
	require.NoError(t, err)

	other, err := workspace.NewWorkspace(workspace.Dirs{Data: cfg.DataDir, Storage: cfg.StorageDir, View: cfg.ViewDir})
	require.NoError(t, err)
	require.NoError(t, other.Lock())
	t.Cleanup(func() { _ = other.Unlock() })

	_, err = c.Detect(context.Background())
	assert.ErrorIs(t, err, workspace.ErrWorkspaceLocked)
}

func TestClient_SyncPullsThenPushes(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)

	handshake := func(ch wire.Channel, want proto.TransmissionType) error {
		if _, err := recv(ch); err != nil {
			return err
		}
		if err := send(ch, proto.NewProceed()); err != nil {
			return err
		}
		hdr, err := recv(ch)
		if err != nil {
			return err
		}
		if !hdr.Is(want) {
			return fmt.Errorf("expected %s, got %s", want, hdr)
		}
		return nil
	}

	pull := func(ch wire.Channel) error {
		if err := handshake(ch, proto.TypeSyncServerToClient); err != nil {
			return err
		}
		if err := send(ch, proto.NewChangeEvent(proto.NewFileCreate("remote.txt", 6))); err != nil {
			return err
		}
		if err := ch.Write(ctx, []byte("remote")); err != nil {
			return err
		}
		if err := send(ch, proto.NewServerVersion(1)); err != nil {
			return err
		}
		return send(ch, proto.NewTransactionComplete())
	}

	push := func(ch wire.Channel) error {
		if err := handshake(ch, proto.TypeSyncClientToServer); err != nil {
			return err
		}
		if err := send(ch, proto.NewProceed()); err != nil {
			return err
		}
		ev, err := recv(ch)
		if err != nil {
			return err
		}
		if got, _ := ev.ChangeEvent(); got != proto.NewFileCreate("local.txt", 5) {
			return fmt.Errorf("unexpected push %s", ev)
		}
		if _, err := ch.ReadNextChunk(ctx); err != nil {
			return err
		}
		return send(ch, proto.NewServerVersion(2))
	}

	c, err := New(cfg, WithDialer(scriptedServer(t, pull, push)))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(cfg.StorageDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StorageDir, "local.txt"), []byte("local"), 0o644))

	pulled, pushed, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pulled.Applied)
	assert.Equal(t, 1, pushed.Sent)
	assert.Equal(t, int64(2), pushed.Version)

	data, err := os.ReadFile(filepath.Join(cfg.StorageDir, "remote.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote", string(data))

	// the pulled file is not reported back as a local change
	n, err := c.Detect(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
