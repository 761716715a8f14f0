package config

import (
	"os"
	"path/filepath"
	"time"
)

// testConfigPath is an override for the default config path used in testing.
// If set, GetDefaultConfigPath will return this value instead of the standard path.
var testConfigPath string

// SetTestConfigPath sets a custom config path for testing purposes.
// This should only be called from tests.
func SetTestConfigPath(path string) {
	testConfigPath = path
}

// GetConfigDir returns the kdbusd configuration directory, ~/.config/kdbusd/
// on Unix systems.
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "kdbusd"), nil
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() (string, error) {
	if testConfigPath != "" {
		return testConfigPath, nil
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

const (
	// Environment variable names.
	EnvLogLevel              = "LOG_LEVEL"
	EnvLogFormat             = "LOG_FORMAT"
	EnvKdbusRootDevpath      = "KDBUS_ROOT_DEVPATH"
	EnvKdbusDefaultBloomSize = "KDBUS_DEFAULT_BLOOM_SIZE"
	EnvIPCSocketPath         = "IPC_SOCKET_PATH"
	EnvIPCEnableAuth         = "IPC_ENABLE_AUTH"
)

const (
	// Default Logging settings.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	// Default Kdbus settings.
	DefaultRootDevpath       = "kdbus"
	DefaultBloomSizeSetting  = 64
	DefaultConnTableSizeHint = 256
	DefaultEndpointModeBits  = 0666

	// Default IPC settings.
	DefaultIPCSocketPath = "/run/kdbusd/ipc.sock"
)

// DefaultLoggingConfig returns the default logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:           DefaultLogLevel,
		Format:          DefaultLogFormat,
		Output:          "stdout",
		SyslogFacility:  "local0",
		RotationEnabled: true,
		MaxSize:         100, // MB
		MaxBackups:      3,
		MaxAge:          28, // days
		Compress:        true,
	}
}

// DefaultKdbusConfig returns the default kdbus broker core configuration.
func DefaultKdbusConfig() KdbusConfig {
	return KdbusConfig{
		RootDevpath:         DefaultRootDevpath,
		DefaultBloomSize:    DefaultBloomSizeSetting,
		ConnTableSizeHint:   DefaultConnTableSizeHint,
		DefaultEndpointMode: DefaultEndpointModeBits,
	}
}

// DefaultIPCConfig returns the default IPC front-end configuration.
func DefaultIPCConfig() IPCConfig {
	return IPCConfig{
		SocketPath:     DefaultIPCSocketPath,
		BufferSize:     65536,
		MaxConnections: 100,
		Timeout:        30 * time.Second,
		EnableAuth:     true,
	}
}
