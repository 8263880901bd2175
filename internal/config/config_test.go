package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Adapter.BaudRate != 38400 {
		t.Errorf("BaudRate = %d, want 38400", cfg.Adapter.BaudRate)
	}
	if !cfg.Adapter.HeadersOn {
		t.Error("HeadersOn should default to true")
	}
	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Retry.MaxRetries)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	raw := `
adapter:
  port_path: /dev/ttyUSB3
  baud_rate: 115200
  protocol: "6"
vehicle:
  manufacturer: chrysler
  ignition: compression
retry:
  max_retries: 1
  timeout_ms: 500
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)
	if cfg.Adapter.PortPath != "/dev/ttyUSB3" {
		t.Errorf("PortPath = %q, want /dev/ttyUSB3", cfg.Adapter.PortPath)
	}
	if cfg.Adapter.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", cfg.Adapter.BaudRate)
	}
	if cfg.Vehicle.Manufacturer != "chrysler" {
		t.Errorf("Manufacturer = %q, want chrysler", cfg.Vehicle.Manufacturer)
	}
	// Unset sections keep defaults.
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}

	p := cfg.Policy()
	if p.MaxRetries != 1 || p.Timeout != 500*time.Millisecond {
		t.Errorf("Policy = %+v, want MaxRetries 1, Timeout 500ms", p)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.Adapter.BaudRate != 38400 {
		t.Errorf("BaudRate = %d, want default 38400", cfg.Adapter.BaudRate)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OBD_PORT", "/dev/ttyACM9")
	t.Setenv("OBD_MANUFACTURER", "land_rover")
	t.Setenv("OBD_RETRIES", "5")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.Adapter.PortPath != "/dev/ttyACM9" {
		t.Errorf("PortPath = %q, want env override", cfg.Adapter.PortPath)
	}
	if cfg.Vehicle.Manufacturer != "land_rover" {
		t.Errorf("Manufacturer = %q, want land_rover", cfg.Vehicle.Manufacturer)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Retry.MaxRetries)
	}
}

func TestMonitorPIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Monitor.PIDs = []string{"0C", "0x05", "zz", "11"}
	got := cfg.MonitorPIDs()
	want := []byte{0x0C, 0x05, 0x11}
	if len(got) != len(want) {
		t.Fatalf("got %d PIDs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PIDs[%d] = %02X, want %02X", i, got[i], want[i])
		}
	}
}

func TestUpdateFromJSONPreservesUnsetFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adapter.PortPath = "/dev/ttyUSB0"

	if err := cfg.UpdateFromJSON([]byte(`{"vehicle":{"manufacturer":"chrysler"}}`)); err != nil {
		t.Fatalf("UpdateFromJSON failed: %v", err)
	}
	if cfg.Vehicle.Manufacturer != "chrysler" {
		t.Errorf("Manufacturer = %q, want chrysler", cfg.Vehicle.Manufacturer)
	}
	if cfg.Adapter.PortPath != "/dev/ttyUSB0" {
		t.Errorf("PortPath = %q, patch must not clobber other sections", cfg.Adapter.PortPath)
	}
}
