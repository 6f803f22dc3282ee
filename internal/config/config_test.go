package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadNodeConfig(t *testing.T) {
	path := writeConfig(t, `
node:
  id: "field-07"
  location: "North plot"
  crop: "rice"
  read_interval: 30s

server:
  url: "wss://example.com/sensor-stream"
  auth_token: "test-token-12345"
  ping_interval: 20s

buffer:
  size: 500
  drop_oldest: true

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("LoadNodeConfig failed: %v", err)
	}

	if cfg.Node.ID != "field-07" {
		t.Errorf("Node.ID = %v, want field-07", cfg.Node.ID)
	}
	if cfg.Node.Crop != "rice" {
		t.Errorf("Node.Crop = %v, want rice", cfg.Node.Crop)
	}
	if cfg.Node.ReadInterval != 30*time.Second {
		t.Errorf("Node.ReadInterval = %v, want 30s", cfg.Node.ReadInterval)
	}
	if cfg.Server.PingInterval != 20*time.Second {
		t.Errorf("Server.PingInterval = %v, want 20s", cfg.Server.PingInterval)
	}
	if cfg.Server.ConnectTimeout != 10*time.Second {
		t.Errorf("Server.ConnectTimeout = %v, want default 10s", cfg.Server.ConnectTimeout)
	}
	if cfg.Buffer.Size != 500 {
		t.Errorf("Buffer.Size = %v, want 500", cfg.Buffer.Size)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %v, want text", cfg.Logging.Format)
	}
}

func TestLoadNodeConfig_MissingFile(t *testing.T) {
	if _, err := LoadNodeConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNodeConfig_ApplyDefaults(t *testing.T) {
	cfg := &NodeConfig{}
	cfg.ApplyDefaults()

	if cfg.Node.Crop != "wheat" {
		t.Errorf("Default Node.Crop = %v, want wheat", cfg.Node.Crop)
	}
	if cfg.Node.ReadInterval != 60*time.Second {
		t.Errorf("Default ReadInterval = %v, want 60s", cfg.Node.ReadInterval)
	}
	if cfg.Buffer.Size != 1000 {
		t.Errorf("Default Buffer.Size = %v, want 1000", cfg.Buffer.Size)
	}
	if !cfg.Buffer.DropOldest {
		t.Error("Default Buffer.DropOldest should be true")
	}
	if cfg.Server.MaxReconnectInterval != 5*time.Minute {
		t.Errorf("Default MaxReconnectInterval = %v, want 5m", cfg.Server.MaxReconnectInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Default Logging.Level = %v, want info", cfg.Logging.Level)
	}
}

func TestNodeConfig_OverrideFromEnv(t *testing.T) {
	t.Setenv("NODE_ID", "env-node-01")
	t.Setenv("NODE_LOCATION", "East plot")
	t.Setenv("SERVER_URL", "wss://env-server.com/ws")
	t.Setenv("SERVER_AUTH_TOKEN", "env-token-xyz")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := &NodeConfig{
		Node:    NodeSettings{ID: "config-node"},
		Server:  ServerConfig{URL: "wss://config-server.com/ws", AuthToken: "config-token"},
		Logging: LoggingConfig{Level: "info"},
	}
	cfg.OverrideFromEnv()

	if cfg.Node.ID != "env-node-01" {
		t.Errorf("Node.ID = %v, want env-node-01", cfg.Node.ID)
	}
	if cfg.Node.Location != "East plot" {
		t.Errorf("Node.Location = %v, want East plot", cfg.Node.Location)
	}
	if cfg.Server.URL != "wss://env-server.com/ws" {
		t.Errorf("Server.URL = %v", cfg.Server.URL)
	}
	if cfg.Server.AuthToken != "env-token-xyz" {
		t.Errorf("Server.AuthToken = %v", cfg.Server.AuthToken)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestNodeConfig_Validate(t *testing.T) {
	valid := func() NodeConfig {
		return NodeConfig{
			Node:   NodeSettings{ID: "field-01", ReadInterval: 30 * time.Second},
			Server: ServerConfig{URL: "wss://example.com/ws", AuthToken: "token123"},
			Buffer: BufferConfig{Size: 1000},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*NodeConfig)
		wantError bool
	}{
		{"valid config", func(*NodeConfig) {}, false},
		{"plain ws scheme", func(c *NodeConfig) { c.Server.URL = "ws://localhost:8081/sensor-stream" }, false},
		{"missing node ID", func(c *NodeConfig) { c.Node.ID = "" }, true},
		{"missing server URL", func(c *NodeConfig) { c.Server.URL = "" }, true},
		{"missing auth token", func(c *NodeConfig) { c.Server.AuthToken = "" }, true},
		{"invalid server URL scheme", func(c *NodeConfig) { c.Server.URL = "http://example.com/ws" }, true},
		{"buffer size too small", func(c *NodeConfig) { c.Buffer.Size = 5 }, true},
		{"buffer size too large", func(c *NodeConfig) { c.Buffer.Size = 200000 }, true},
		{"read interval too short", func(c *NodeConfig) { c.Node.ReadInterval = 500 * time.Millisecond }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantError && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestNodeConfig_String_MasksToken(t *testing.T) {
	cfg := &NodeConfig{
		Node:   NodeSettings{ID: "field-01"},
		Server: ServerConfig{URL: "wss://example.com/ws", AuthToken: "secret-token-12345"},
	}

	str := cfg.String()
	if strings.Contains(str, "secret-token-12345") {
		t.Error("String() should mask auth token")
	}
	if !strings.Contains(str, "secr****") {
		t.Error("String() should contain masked token")
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "****"},
		{"abcd", "****"},
		{"abcde", "abcd****"},
	}
	for _, tt := range tests {
		if got := maskToken(tt.in); got != tt.want {
			t.Errorf("maskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
