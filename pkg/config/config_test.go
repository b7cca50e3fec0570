package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
vm:
  self_vm: 1

database:
  type: sqlite
  sqlite:
    path: "` + filepath.ToSlash(filepath.Join(tmpDir, "cp.db")) + `"

controlplane:
  port: 8080
  jwt:
    secret: "test-secret-key-for-testing-minimum-32-chars"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("expected default format text, got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Transport.RingSlots != 256 {
		t.Errorf("expected default ring_slots 256, got %d", cfg.Transport.RingSlots)
	}
	if cfg.VM.MaxSlots != 1000 {
		t.Errorf("expected default max_slots 1000, got %d", cfg.VM.MaxSlots)
	}
	if cfg.VM.SelfVM != 1 {
		t.Errorf("expected self_vm 1, got %d", cfg.VM.SelfVM)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default level INFO, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsMissingSelfVM(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "cp.db")
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for zero self_vm")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.VM.SelfVM = 2
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "cp.db")
	cfg.Logging.Level = "VERBOSE"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.VM.SelfVM = 3
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "cp.db")

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload saved config: %v", err)
	}
	if loaded.VM.SelfVM != 3 {
		t.Errorf("expected self_vm 3 after round trip, got %d", loaded.VM.SelfVM)
	}
}
