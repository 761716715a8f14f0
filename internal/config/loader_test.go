package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/amigadave/kdbus/pkg/types"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFileValidMinimal(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfigFile(t, tmpDir, "valid.yaml", `
logging:
  level: info
  format: json
  output: stdout
kdbus:
  root_devpath: kdbus
  default_bloom_size: 64
ipc:
  socket_path: /tmp/kdbusd-ipc.sock
  buffer_size: 65536
  max_connections: 100
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v, want nil", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Kdbus.RootDevpath != "kdbus" {
		t.Errorf("Kdbus.RootDevpath = %s, want kdbus", cfg.Kdbus.RootDevpath)
	}
	if cfg.IPC.SocketPath != "/tmp/kdbusd-ipc.sock" {
		t.Errorf("IPC.SocketPath = %s, want /tmp/kdbusd-ipc.sock", cfg.IPC.SocketPath)
	}
}

func TestLoadFromFilePartialAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfigFile(t, tmpDir, "partial.yaml", `
logging:
  level: debug
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v, want nil", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	defaultKdbus := DefaultKdbusConfig()
	if cfg.Kdbus.RootDevpath != defaultKdbus.RootDevpath {
		t.Errorf("Kdbus.RootDevpath = %s, want default %s", cfg.Kdbus.RootDevpath, defaultKdbus.RootDevpath)
	}
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !types.IsErrCode(err, types.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND error code, got %v", err)
	}
}

func TestLoadFromFileRejectsBadExtension(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfigFile(t, tmpDir, "config.json", `{}`)
	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("expected error for non-yaml extension, got nil")
	}
}

func TestLoadFromFileRejectsEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfigFile(t, tmpDir, "empty.yaml", "")
	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("expected error for empty file, got nil")
	}
}

func TestLoadFromFileRejectsInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfigFile(t, tmpDir, "bad.yaml", "logging: [unterminated")
	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoadFromFileRejectsFailedValidation(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfigFile(t, tmpDir, "invalid.yaml", `
logging:
  level: not-a-real-level
  format: json
`)
	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestLoadFromFileInterpolatesEnvVars(t *testing.T) {
	os.Setenv("KDBUS_TEST_DEVPATH", "envdevpath")
	defer os.Unsetenv("KDBUS_TEST_DEVPATH")

	tmpDir := t.TempDir()
	path := writeConfigFile(t, tmpDir, "interp.yaml", `
kdbus:
  root_devpath: ${KDBUS_TEST_DEVPATH}
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v, want nil", err)
	}
	if cfg.Kdbus.RootDevpath != "envdevpath" {
		t.Errorf("Kdbus.RootDevpath = %s, want envdevpath", cfg.Kdbus.RootDevpath)
	}
}

func TestLoadFromFileInterpolatesEnvVarDefault(t *testing.T) {
	os.Unsetenv("KDBUS_TEST_UNSET_DEVPATH")

	tmpDir := t.TempDir()
	path := writeConfigFile(t, tmpDir, "interp-default.yaml", `
kdbus:
  root_devpath: ${KDBUS_TEST_UNSET_DEVPATH:-fallback-devpath}
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v, want nil", err)
	}
	if cfg.Kdbus.RootDevpath != "fallback-devpath" {
		t.Errorf("Kdbus.RootDevpath = %s, want fallback-devpath", cfg.Kdbus.RootDevpath)
	}
}
