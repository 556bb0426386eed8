package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type DaemonConfig struct {
	ExpirationSeconds int    `mapstructure:"expiration_seconds"`
	LogLevel          string `mapstructure:"log_level"`
}

// Level parses LogLevel ("debug", "info", "warn", "error"), defaulting to info.
func (d DaemonConfig) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(d.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// DocsRSConfig points the fetcher at a docs.rs-compatible host.
type DocsRSConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

type LoadConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type RenderConfig struct {
	Title string `mapstructure:"title"`
}

type Config struct {
	Daemon DaemonConfig `mapstructure:"daemon"`
	DocsRS DocsRSConfig `mapstructure:"docsrs"`
	Load   LoadConfig   `mapstructure:"load"`
	Render RenderConfig `mapstructure:"render"`
}

// cacheBase returns the base cache directory for implindex.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/implindex as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "implindex")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".cache", "implindex")
	}
	return filepath.Join(os.TempDir(), "implindex")
}

// DBPath returns the path to the DuckDB database file.
func DBPath() string {
	return filepath.Join(cacheBase(), "db.db")
}

// CASDir returns the path to the content-addressable fragment store.
func CASDir() string {
	return filepath.Join(cacheBase(), "cas")
}

// JSONCacheDir returns the path to the rustdoc JSON cache directory.
func JSONCacheDir() string {
	return filepath.Join(cacheBase(), "json")
}

// LogPath returns the path to the daemon's log file.
func LogPath() string {
	return filepath.Join(cacheBase(), "daemon.log")
}

// SocketPath returns the path to the daemon's unix socket.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "implindex", "daemon.sock")
	}
	return filepath.Join(fmt.Sprintf("/run/user/%d", os.Getuid()), "implindex", "daemon.sock")
}

func InitializeViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "implindex"))
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "implindex"))
	}

	viper.SetDefault("daemon.expiration_seconds", 600)
	viper.SetDefault("daemon.log_level", "info")
	viper.SetDefault("docsrs.base_url", "https://docs.rs")
	viper.SetDefault("docsrs.user_agent", "implindex/0.1.0")
	viper.SetDefault("load.concurrency", 8)
	viper.SetDefault("render.title", "Implementors")

	viper.SetEnvPrefix("IMPLINDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func Load() (*Config, error) {
	if err := InitializeViper(); err != nil {
		return nil, err
	}

	var config Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Load.Concurrency <= 0 {
		config.Load.Concurrency = 1
	}
	config.DocsRS.BaseURL = strings.TrimSuffix(config.DocsRS.BaseURL, "/")

	return &config, nil
}
