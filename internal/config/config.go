// Package config loads scanner configuration from YAML with environment
// overrides.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/obdscan/internal/adapter"
	"github.com/shaunagostinho/obdscan/internal/protocol"
)

// Config holds all scanner configuration.
type Config struct {
	mu sync.RWMutex

	Adapter AdapterConfig `yaml:"adapter" json:"adapter"`
	Vehicle VehicleConfig `yaml:"vehicle" json:"vehicle"`
	Retry   RetryConfig   `yaml:"retry" json:"retry"`
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Server  ServerConfig  `yaml:"server" json:"server"`

	path string // file path for save/load
}

type AdapterConfig struct {
	PortPath  string `yaml:"port_path" json:"portPath"` // empty = auto-detect
	BaudRate  int    `yaml:"baud_rate" json:"baudRate"`
	HeadersOn bool   `yaml:"headers_on" json:"headersOn"`
	Protocol  string `yaml:"protocol" json:"protocol"` // ELM digit, empty = auto
}

type VehicleConfig struct {
	Manufacturer string `yaml:"manufacturer" json:"manufacturer"` // generic, chrysler, land_rover
	Ignition     string `yaml:"ignition" json:"ignition"`         // spark or compression
}

type RetryConfig struct {
	MaxRetries int `yaml:"max_retries" json:"maxRetries"`
	TimeoutMs  int `yaml:"timeout_ms" json:"timeoutMs"`
	SettleMs   int `yaml:"settle_ms" json:"settleMs"`
}

type MonitorConfig struct {
	IntervalMs int      `yaml:"interval_ms" json:"intervalMs"`
	PIDs       []string `yaml:"pids" json:"pids"` // hex ids, empty = default set
}

type LoggingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Adapter: AdapterConfig{
			PortPath:  "",
			BaudRate:  38400,
			HeadersOn: true,
			Protocol:  "",
		},
		Vehicle: VehicleConfig{
			Manufacturer: "generic",
			Ignition:     "spark",
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			TimeoutMs:  3000,
			SettleMs:   150,
		},
		Monitor: MonitorConfig{
			IntervalMs: 1000,
		},
		Logging: LoggingConfig{
			Enabled: false,
			Path:    "/var/log/obdscan",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence over .env
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: OBD_PORT, OBD_BAUD, OBD_HEADERS, OBD_PROTOCOL, OBD_MANUFACTURER,
// OBD_IGNITION, OBD_TIMEOUT_MS, OBD_RETRIES, LISTEN_ADDR, LOG_ENABLED, LOG_PATH
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OBD_PORT"); v != "" {
		c.Adapter.PortPath = v
	}
	if v := os.Getenv("OBD_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Adapter.BaudRate = n
		}
	}
	if v := os.Getenv("OBD_HEADERS"); v != "" {
		c.Adapter.HeadersOn = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("OBD_PROTOCOL"); v != "" {
		c.Adapter.Protocol = v
	}
	if v := os.Getenv("OBD_MANUFACTURER"); v != "" {
		c.Vehicle.Manufacturer = v
	}
	if v := os.Getenv("OBD_IGNITION"); v != "" {
		c.Vehicle.Ignition = v
	}
	if v := os.Getenv("OBD_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.TimeoutMs = n
		}
	}
	if v := os.Getenv("OBD_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
}

// AdapterSettings builds the serial session settings from the config.
func (c *Config) AdapterSettings() adapter.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return adapter.Config{
		Port:      c.Adapter.PortPath,
		Baud:      c.Adapter.BaudRate,
		Timeout:   time.Duration(c.Retry.TimeoutMs) * time.Millisecond,
		HeadersOn: c.Adapter.HeadersOn,
		Protocol:  c.Adapter.Protocol,
	}
}

// Policy builds the engine retry policy from the config.
func (c *Config) Policy() protocol.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := protocol.DefaultPolicy()
	if c.Retry.MaxRetries >= 0 {
		p.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.TimeoutMs > 0 {
		p.Timeout = time.Duration(c.Retry.TimeoutMs) * time.Millisecond
	}
	if c.Retry.SettleMs >= 0 {
		p.Settle = time.Duration(c.Retry.SettleMs) * time.Millisecond
	}
	return p
}

// MonitorPIDs parses the configured monitor PID list. Bad entries are
// skipped with a log line; an empty result means the default set.
func (c *Config) MonitorPIDs() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []byte
	for _, s := range c.Monitor.PIDs {
		n, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(s), "0x"), 16, 8)
		if err != nil {
			log.Printf("[config] bad monitor PID %q: %v", s, err)
			continue
		}
		out = append(out, byte(n))
	}
	return out
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/obdscan/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
