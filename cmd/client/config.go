package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hcsync/hcs/internal/client"
	"github.com/hcsync/hcs/internal/client/config"
	"github.com/hcsync/hcs/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var home, _ = os.UserHomeDir()

const (
	envPrefix      = "HCS"
	configFileName = "config"
)

// loadConfig merges, from lowest to highest precedence: defaults, the config
// file, a .env file in the working directory and HCS_* environment variables.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	v := viper.New()
	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		v.AddConfigPath(filepath.Join(home, ".hcs"))
		v.AddConfigPath(filepath.Join(home, ".config", "hcs"))
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
	}

	// every key needs a default for AutomaticEnv to reach it through Unmarshal
	v.SetDefault("server_addr", config.DefaultServerAddr)
	v.SetDefault("client_id", config.DefaultClientID)
	v.SetDefault("data_dir", config.DefaultDataDir)
	v.SetDefault("storage_dir", "")
	v.SetDefault("view_dir", "")
	v.SetDefault("metadata_dir", "")
	v.SetDefault("log_level", config.DefaultLogLevel)
	v.SetDefault("io_timeout", "0s")
	v.SetDefault("exclude", []string{})

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	return &cfg, nil
}

// setupLogging applies the configured level and adds the log file next to
// the console output.
func setupLogging(cfg *config.Config) (func(), error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logLevel.Set(level)

	logFile := cfg.LogFilePath()
	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: logLevel,
		// the interceptor stamps every line
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(newConsoleHandler(os.Stdout), fileHandler)))

	return func() {
		slog.SetDefault(slog.New(newConsoleHandler(os.Stdout)))
		logInterceptor.Close()
		file.Close()
	}, nil
}

// openClient loads and validates the config, then builds the client.
func openClient(cmd *cobra.Command) (*client.Client, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		return nil, nil, err
	}

	c, err := client.New(cfg)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	slog.Debug("config", "path", cfg.Path, "server", cfg.ServerAddr, "storage", cfg.StorageDir, "view", cfg.ViewDir)
	return c, closeLog, nil
}
