package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(tmp string) *Config {
	return &Config{
		DataDir:    filepath.Join(tmp, "data"),
		StorageDir: filepath.Join(tmp, "storage"),
		ViewDir:    filepath.Join(tmp, "view"),
		Path:       filepath.Join(tmp, "config.yaml"),
	}
}

func TestConfig_Validate_NormalizesAndDefaults(t *testing.T) {
	tmp := t.TempDir()
	cfg := validConfig(tmp)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultServerAddr, cfg.ServerAddr)
	assert.Equal(t, DefaultClientID, cfg.ClientID)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(cfg.DataDir, "metadata"), cfg.MetadataDir)
	assert.True(t, filepath.IsAbs(cfg.StorageDir))
	assert.True(t, filepath.IsAbs(cfg.Path))
	assert.Equal(t, filepath.Join(cfg.DataDir, "logs", "hcs.log"), cfg.LogFilePath())
}

func TestConfig_Validate_ErrorsOnInvalidInputs(t *testing.T) {
	tmp := t.TempDir()

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing storage", func(c *Config) { c.StorageDir = "" }},
		{"missing view", func(c *Config) { c.ViewDir = "" }},
		{"view equals storage", func(c *Config) { c.ViewDir = c.StorageDir }},
		{"view inside storage", func(c *Config) { c.ViewDir = filepath.Join(c.StorageDir, "view") }},
		{"metadata inside view", func(c *Config) { c.MetadataDir = filepath.Join(c.ViewDir, ".meta") }},
		{"data inside storage", func(c *Config) { c.DataDir = filepath.Join(c.StorageDir, ".hcs") }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"negative timeout", func(c *Config) { c.IOTimeout = -time.Second }},
		{"bad exclude", func(c *Config) { c.Exclude = []string{"[unclosed"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(tmp)
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfig_SaveAndLoad_Roundtrip(t *testing.T) {
	tmp := t.TempDir()
	cfg := validConfig(tmp)
	cfg.ServerAddr = "ws://sync.example.com/hcs"
	cfg.LogLevel = "debug"
	cfg.IOTimeout = 30 * time.Second
	cfg.Exclude = []string{"**/*.log", "cache/**"}

	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Save())

	loaded, err := LoadClientConfig(cfg.Path)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())

	assert.Equal(t, cfg, loaded)

	_, err = os.Stat(cfg.Path)
	require.NoError(t, err)
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
