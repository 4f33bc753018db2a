package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hcsync/hcs/internal/utils"
	"gopkg.in/yaml.v3"
)

var (
	home, _            = os.UserHomeDir()
	DefaultDataDir     = filepath.Join(home, ".hcs")
	DefaultConfigPath  = filepath.Join(DefaultDataDir, "config.yaml")
	DefaultServerAddr  = "127.0.0.1:8080"
	DefaultClientID    = "HCS CLIENT"
	DefaultLogLevel    = "info"
	DefaultLogFilePath = filepath.Join(DefaultDataDir, "logs", "hcs.log")
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	ServerAddr  string        `json:"server_addr" yaml:"server_addr" mapstructure:"server_addr"`
	ClientID    string        `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
	DataDir     string        `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	StorageDir  string        `json:"storage_dir" yaml:"storage_dir" mapstructure:"storage_dir"`
	ViewDir     string        `json:"view_dir" yaml:"view_dir" mapstructure:"view_dir"`
	MetadataDir string        `json:"metadata_dir,omitempty" yaml:"metadata_dir,omitempty" mapstructure:"metadata_dir"`
	LogLevel    string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	IOTimeout   time.Duration `json:"io_timeout,omitempty" yaml:"io_timeout,omitempty" mapstructure:"io_timeout"`
	Exclude     []string      `json:"exclude,omitempty" yaml:"exclude,omitempty" mapstructure:"exclude"`
	Path        string        `json:"-" yaml:"-" mapstructure:"-"`
}

// Validate fills in defaults, makes every directory absolute and checks that
// the content store, view and metadata roots are distinct and not nested.
func (c *Config) Validate() error {
	var err error

	if c.ServerAddr == "" {
		c.ServerAddr = DefaultServerAddr
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}

	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("%w: data dir: %w", ErrInvalidConfig, err)
	}
	if c.MetadataDir == "" {
		c.MetadataDir = filepath.Join(c.DataDir, "metadata")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("%w: storage_dir is required", ErrInvalidConfig)
	}
	if c.ViewDir == "" {
		return fmt.Errorf("%w: view_dir is required", ErrInvalidConfig)
	}
	if c.StorageDir, err = utils.ResolvePath(c.StorageDir); err != nil {
		return fmt.Errorf("%w: storage dir: %w", ErrInvalidConfig, err)
	}
	if c.ViewDir, err = utils.ResolvePath(c.ViewDir); err != nil {
		return fmt.Errorf("%w: view dir: %w", ErrInvalidConfig, err)
	}
	if c.MetadataDir, err = utils.ResolvePath(c.MetadataDir); err != nil {
		return fmt.Errorf("%w: metadata dir: %w", ErrInvalidConfig, err)
	}
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("%w: config path: %w", ErrInvalidConfig, err)
		}
	}

	roots := map[string]string{
		"storage_dir":  c.StorageDir,
		"view_dir":     c.ViewDir,
		"metadata_dir": c.MetadataDir,
	}
	for a, pa := range roots {
		for b, pb := range roots {
			if a != b && (pa == pb || utils.IsWithin(pa, pb)) {
				return fmt.Errorf("%w: %s %q overlaps %s %q", ErrInvalidConfig, b, pb, a, pa)
			}
		}
	}
	if utils.IsWithin(c.StorageDir, c.DataDir) || utils.IsWithin(c.ViewDir, c.DataDir) {
		return fmt.Errorf("%w: data_dir %q is inside a synced root", ErrInvalidConfig, c.DataDir)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.IOTimeout < 0 {
		return fmt.Errorf("%w: io_timeout must not be negative", ErrInvalidConfig)
	}
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: bad exclude pattern %q", ErrInvalidConfig, pattern)
		}
	}

	return nil
}

// LogFilePath is where the client writes its log file.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.DataDir, "logs", "hcs.log")
}

func (c *Config) Save() error {
	path := c.Path
	if path == "" {
		path = DefaultConfigPath
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadClientConfig reads a YAML config file. It does not validate.
func LoadClientConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, level)
	}
	return l, nil
}
