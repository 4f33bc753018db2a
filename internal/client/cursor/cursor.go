// Package cursor persists the highest server version the client has synced to.
package cursor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/hcsync/hcs/internal/utils"
)

const fileName = "server_version.json"

var ErrVersionRegression = errors.New("server version moved backwards")

type state struct {
	ServerVersion int64 `json:"server_version"`
}

// Cursor is the client's view of the server revision. It is owned by a
// single session at a time and is not safe for concurrent use.
type Cursor struct {
	path    string
	version int64
}

// New returns a cursor stored in dataDir. Call Load before use.
func New(dataDir string) *Cursor {
	return &Cursor{path: filepath.Join(dataDir, fileName)}
}

func (c *Cursor) Path() string {
	return c.path
}

// Load reads the persisted version. A missing file means version 0.
func (c *Cursor) Load() error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		c.version = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("read server version: %w", err)
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse server version %s: %w", c.path, err)
	}
	if s.ServerVersion < 0 {
		return fmt.Errorf("parse server version %s: negative version %d", c.path, s.ServerVersion)
	}
	c.version = s.ServerVersion
	return nil
}

func (c *Cursor) Current() int64 {
	return c.version
}

// Set advances the cursor and persists it before returning, so the stored
// value never runs ahead of what was acknowledged.
func (c *Cursor) Set(v int64) error {
	if v < c.version {
		return fmt.Errorf("%w: %d -> %d", ErrVersionRegression, c.version, v)
	}
	if v == c.version {
		return nil
	}

	if err := c.persist(v); err != nil {
		return err
	}
	slog.Debug("server version", "from", c.version, "to", v)
	c.version = v
	return nil
}

func (c *Cursor) persist(v int64) error {
	data, err := json.Marshal(state{ServerVersion: v})
	if err != nil {
		return err
	}
	if err := utils.EnsureParent(c.path); err != nil {
		return fmt.Errorf("persist server version: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist server version: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist server version: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persist server version: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist server version: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("persist server version: %w", err)
	}
	return nil
}
