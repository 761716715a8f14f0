package config

import "testing"

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()
	if cfg.Level != DefaultLogLevel {
		t.Errorf("expected level %q, got %q", DefaultLogLevel, cfg.Level)
	}
	if cfg.Format != DefaultLogFormat {
		t.Errorf("expected format %q, got %q", DefaultLogFormat, cfg.Format)
	}
	if cfg.Output == "" {
		t.Error("expected output to be set")
	}
}

func TestDefaultKdbusConfig(t *testing.T) {
	cfg := DefaultKdbusConfig()
	if cfg.RootDevpath != DefaultRootDevpath {
		t.Errorf("expected root devpath %q, got %q", DefaultRootDevpath, cfg.RootDevpath)
	}
	if cfg.DefaultBloomSize == 0 || cfg.DefaultBloomSize%8 != 0 {
		t.Errorf("expected default bloom size to be a nonzero multiple of 8, got %d", cfg.DefaultBloomSize)
	}
	if cfg.ConnTableSizeHint <= 0 {
		t.Errorf("expected positive conn table size hint, got %d", cfg.ConnTableSizeHint)
	}
}

func TestDefaultIPCConfig(t *testing.T) {
	cfg := DefaultIPCConfig()
	if cfg.SocketPath == "" {
		t.Error("expected socket path to be set")
	}
	if cfg.BufferSize <= 0 {
		t.Errorf("expected positive buffer size, got %d", cfg.BufferSize)
	}
}
