package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hcsync/hcs/internal/client/changes"
	"github.com/hcsync/hcs/internal/client/config"
	"github.com/hcsync/hcs/internal/client/cursor"
	"github.com/hcsync/hcs/internal/client/detect"
	"github.com/hcsync/hcs/internal/client/sync"
	"github.com/hcsync/hcs/internal/client/workspace"
	"github.com/hcsync/hcs/internal/wire"
)

const (
	journalFileName = "changes.db"
	// committed records are kept this long for inspection
	journalRetention = 7 * 24 * time.Hour
)

// Client runs one command at a time against the local workspace. Every
// command holds the workspace lock for its whole duration.
type Client struct {
	config    *config.Config
	workspace *workspace.Workspace
	cursor    *cursor.Cursor
	journal   *changes.Journal
	detector  *detect.Detector
	engine    *sync.SyncEngine
}

// Option overrides parts of the client, mainly for tests.
type Option func(*Client)

// WithDialer replaces the connection used by sync sessions.
func WithDialer(dial sync.DialFunc) Option {
	return func(c *Client) {
		c.engine = sync.NewSyncEngine(c.workspace, c.cursor, changes.NewQueue(c.journal), dial, c.config.ClientID)
	}
}

func New(cfg *config.Config, opts ...Option) (*Client, error) {
	ws, err := workspace.NewWorkspace(workspace.Dirs{
		Data:     cfg.DataDir,
		Storage:  cfg.StorageDir,
		View:     cfg.ViewDir,
		Metadata: cfg.MetadataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	cur := cursor.New(ws.DataDir)
	journal := changes.NewJournal(filepath.Join(ws.DataDir, journalFileName))
	dial := sync.Dialer(cfg.ServerAddr, wire.WithIOTimeout(cfg.IOTimeout))

	c := &Client{
		config:    cfg,
		workspace: ws,
		cursor:    cur,
		journal:   journal,
		detector:  detect.New(ws, journal, cfg.Exclude),
		engine:    sync.NewSyncEngine(ws, cur, changes.NewQueue(journal), dial, cfg.ClientID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Detect records the changes made to the content store since the last run.
func (c *Client) Detect(ctx context.Context) (int, error) {
	var n int
	err := c.run(func() (err error) {
		n, err = c.detector.Detect(ctx)
		return err
	})
	return n, err
}

// SyncUp detects local changes and pushes them.
func (c *Client) SyncUp(ctx context.Context) (*sync.PushResult, error) {
	var res *sync.PushResult
	err := c.run(func() error {
		if _, err := c.detector.Detect(ctx); err != nil {
			return fmt.Errorf("detect: %w", err)
		}
		var err error
		if res, err = c.engine.Push(ctx); err != nil {
			return err
		}
		c.prune(ctx)
		return nil
	})
	return res, err
}

// SyncDown detects local changes, so pulled writes are not mistaken for
// them later, then pulls.
func (c *Client) SyncDown(ctx context.Context) (*sync.PullResult, error) {
	var res *sync.PullResult
	err := c.run(func() error {
		if _, err := c.detector.Detect(ctx); err != nil {
			return fmt.Errorf("detect: %w", err)
		}
		var err error
		res, err = c.engine.Pull(ctx)
		return err
	})
	return res, err
}

// Sync detects, pulls and then pushes. The push is skipped when the pull fails.
func (c *Client) Sync(ctx context.Context) (*sync.PullResult, *sync.PushResult, error) {
	var pulled *sync.PullResult
	var pushed *sync.PushResult
	err := c.run(func() error {
		if _, err := c.detector.Detect(ctx); err != nil {
			return fmt.Errorf("detect: %w", err)
		}
		var err error
		if pulled, err = c.engine.Pull(ctx); err != nil {
			return fmt.Errorf("sync down: %w", err)
		}
		if pushed, err = c.engine.Push(ctx); err != nil {
			return fmt.Errorf("sync up: %w", err)
		}
		c.prune(ctx)
		return nil
	})
	return pulled, pushed, err
}

// Repair detects pending local changes first, then reconciles the view and
// metadata with the content store.
func (c *Client) Repair(ctx context.Context) (*workspace.RepairReport, error) {
	var report *workspace.RepairReport
	err := c.run(func() error {
		if _, err := c.detector.Detect(ctx); err != nil {
			return fmt.Errorf("detect: %w", err)
		}
		var err error
		report, err = c.workspace.Repair(ctx)
		return err
	})
	return report, err
}

func (c *Client) prune(ctx context.Context) {
	n, err := c.journal.Prune(ctx, time.Now().Add(-journalRetention))
	if err != nil {
		slog.Warn("failed to prune change journal", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("change journal pruned", "records", n)
	}
}

// run holds the workspace lock and keeps the journal and cursor loaded
// while fn runs.
func (c *Client) run(fn func() error) (err error) {
	if err := c.workspace.Lock(); err != nil {
		return err
	}
	defer func() {
		if uerr := c.workspace.Unlock(); uerr != nil {
			slog.Warn("failed to release workspace lock", "error", uerr)
		}
	}()

	if err := c.workspace.Setup(); err != nil {
		return fmt.Errorf("failed to setup workspace: %w", err)
	}
	if err := c.cursor.Load(); err != nil {
		return err
	}
	if err := c.journal.Open(); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.journal.Close())
	}()

	slog.Debug("client", "server", c.config.ServerAddr, "clientID", c.config.ClientID, "version", c.cursor.Current())
	return fn()
}
