package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amigadave/kdbus/pkg/types"
)

// Config represents the complete configuration for the kdbus broker daemon.
type Config struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Kdbus   KdbusConfig   `json:"kdbus" yaml:"kdbus"`
	IPC     IPCConfig     `json:"ipc" yaml:"ipc"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level           string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format          string `json:"format" yaml:"format"` // json, text
	Output          string `json:"output" yaml:"output"` // stdout, stderr, syslog, file path
	SyslogFacility  string `json:"syslog_facility" yaml:"syslog_facility"`
	RotationEnabled bool   `json:"rotation_enabled" yaml:"rotation_enabled"`
	MaxSize         int    `json:"max_size" yaml:"max_size"` // MB
	MaxBackups      int    `json:"max_backups" yaml:"max_backups"`
	MaxAge          int    `json:"max_age" yaml:"max_age"` // days
	Compress        bool   `json:"compress" yaml:"compress"`
}

// KdbusConfig holds the broker core's own tunables: the devpath the daemon
// reports for the root namespace at startup (the namespace's own Devpath
// is always "kdbus"), the bloom filter size and endpoint mode the
// daemon's startup bus is made with, and a connection-table size hint
// that no bus currently reads.
type KdbusConfig struct {
	RootDevpath         string `json:"root_devpath" yaml:"root_devpath"`
	DefaultBloomSize    uint64 `json:"default_bloom_size" yaml:"default_bloom_size"`
	ConnTableSizeHint   int    `json:"conn_table_size_hint" yaml:"conn_table_size_hint"`
	DefaultEndpointMode uint32 `json:"default_endpoint_mode" yaml:"default_endpoint_mode"`
}

// IPCConfig contains the demonstration socket front end's configuration.
type IPCConfig struct {
	SocketPath     string        `json:"socket_path" yaml:"socket_path"`
	BufferSize     int           `json:"buffer_size" yaml:"buffer_size"`
	MaxConnections int           `json:"max_connections" yaml:"max_connections"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	EnableAuth     bool          `json:"enable_auth" yaml:"enable_auth"`
}

// applyDefaults fills in zero-valued config fields with their defaults.
// Called after loading from YAML so a partial file still gets sensible
// values for whatever it left unspecified.
func applyDefaults(cfg *Config) {
	defaultLogging := DefaultLoggingConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defaultLogging.Output
	}
	if cfg.Logging.SyslogFacility == "" {
		cfg.Logging.SyslogFacility = defaultLogging.SyslogFacility
	}
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = defaultLogging.MaxSize
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = defaultLogging.MaxBackups
	}
	if cfg.Logging.MaxAge == 0 {
		cfg.Logging.MaxAge = defaultLogging.MaxAge
	}

	defaultKdbus := DefaultKdbusConfig()
	if cfg.Kdbus.RootDevpath == "" {
		cfg.Kdbus.RootDevpath = defaultKdbus.RootDevpath
	}
	if cfg.Kdbus.DefaultBloomSize == 0 {
		cfg.Kdbus.DefaultBloomSize = defaultKdbus.DefaultBloomSize
	}
	if cfg.Kdbus.ConnTableSizeHint == 0 {
		cfg.Kdbus.ConnTableSizeHint = defaultKdbus.ConnTableSizeHint
	}
	if cfg.Kdbus.DefaultEndpointMode == 0 {
		cfg.Kdbus.DefaultEndpointMode = defaultKdbus.DefaultEndpointMode
	}

	defaultIPC := DefaultIPCConfig()
	if cfg.IPC.SocketPath == "" {
		cfg.IPC.SocketPath = defaultIPC.SocketPath
	}
	if cfg.IPC.BufferSize == 0 {
		cfg.IPC.BufferSize = defaultIPC.BufferSize
	}
	if cfg.IPC.MaxConnections == 0 {
		cfg.IPC.MaxConnections = defaultIPC.MaxConnections
	}
	if cfg.IPC.Timeout == 0 {
		cfg.IPC.Timeout = defaultIPC.Timeout
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Used by both Load and the config reloader.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv(EnvKdbusRootDevpath); v != "" {
		cfg.Kdbus.RootDevpath = v
	}
	if v := os.Getenv(EnvKdbusDefaultBloomSize); v != "" {
		if size, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Kdbus.DefaultBloomSize = size
		}
	}

	if v := os.Getenv(EnvIPCSocketPath); v != "" {
		cfg.IPC.SocketPath = v
	}
	if v := os.Getenv(EnvIPCEnableAuth); v != "" {
		cfg.IPC.EnableAuth = strings.ToLower(v) == "true" || v == "1"
	}

	return nil
}

// Load creates a new Config, reading from path if given (or the default
// config path if path is empty and a file exists there), falling back to
// defaults otherwise, then applying environment variable overrides.
func Load(path string) (*Config, error) {
	var cfg *Config

	if path == "" {
		defaultPath, err := GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	if _, err := os.Stat(path); err == nil {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to check config file: %w", err)
	}

	if cfg == nil {
		cfg = &Config{
			Logging: DefaultLoggingConfig(),
			Kdbus:   DefaultKdbusConfig(),
			IPC:     DefaultIPCConfig(),
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for validity.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log format: %s (must be json or text)", c.Logging.Format))
	}

	if c.Kdbus.RootDevpath == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "kdbus root devpath cannot be empty")
	}
	if c.Kdbus.DefaultBloomSize < 8 || c.Kdbus.DefaultBloomSize > 16*1024 || c.Kdbus.DefaultBloomSize%8 != 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "kdbus default bloom size must be a multiple of 8 in [8, 16384]")
	}

	if c.IPC.SocketPath == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "ipc socket path cannot be empty")
	}
	if c.IPC.BufferSize <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "ipc buffer size must be positive")
	}

	return nil
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Logging: %s, Kdbus: %s, IPC: %s}",
		c.Logging.String(), c.Kdbus.String(), c.IPC.String())
}

func (c LoggingConfig) String() string {
	return fmt.Sprintf("LoggingConfig{Level: %s, Format: %s, Output: %s}",
		c.Level, c.Format, c.Output)
}

func (c KdbusConfig) String() string {
	return fmt.Sprintf("KdbusConfig{RootDevpath: %s, DefaultBloomSize: %d, ConnTableSizeHint: %d}",
		c.RootDevpath, c.DefaultBloomSize, c.ConnTableSizeHint)
}

func (c IPCConfig) String() string {
	return fmt.Sprintf("IPCConfig{SocketPath: %s, BufferSize: %d, EnableAuth: %v}",
		c.SocketPath, c.BufferSize, c.EnableAuth)
}
