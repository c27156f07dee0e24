package configs

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorelay/internal/session"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  addr: ":9000"
  websocket:
    write_timeout: 3s
relay:
  mode: heartbeat
  heartbeat_interval: 500ms
  milestone_every: 4
cluster:
  enabled: true
  bus_type: redis
  topic: chat
  redis:
    addrs: ["10.0.0.1:6379"]
log:
  level: debug
`)

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.WebSocket.WriteTimeout != 3*time.Second {
		t.Errorf("write_timeout = %v", cfg.Server.WebSocket.WriteTimeout)
	}
	if cfg.Server.WebSocket.ReadBufferSize != 4<<10 {
		t.Errorf("read_buffer_size default lost: %d", cfg.Server.WebSocket.ReadBufferSize)
	}
	if cfg.Relay.Mode != session.ModeHeartbeat || cfg.Relay.HeartbeatInterval != 500*time.Millisecond || cfg.Relay.MilestoneEvery != 4 {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if !cfg.Relay.Welcome {
		t.Error("welcome default lost")
	}
	if !cfg.Cluster.Enabled || cfg.Cluster.BusType != "redis" || cfg.Cluster.Bridge.Topic != "chat" {
		t.Errorf("cluster = %+v", cfg.Cluster)
	}
	if len(cfg.Cluster.Redis.Addrs) != 1 || cfg.Cluster.Redis.Addrs[0] != "10.0.0.1:6379" {
		t.Errorf("redis addrs = %v", cfg.Cluster.Redis.Addrs)
	}
	if cfg.Cluster.Redis.KeyPrefix != "gorelay:" {
		t.Errorf("redis key prefix default lost: %q", cfg.Cluster.Redis.KeyPrefix)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	def := NewDefaultConfig()
	if cfg.Server.Addr != def.Server.Addr || cfg.Relay != def.Relay || cfg.Log != def.Log {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("GORELAY_RELAY_MODE", "heartbeat")
	t.Setenv("GORELAY_SERVER_ADDR", ":7070")

	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Relay.Mode != session.ModeHeartbeat {
		t.Errorf("mode = %q", cfg.Relay.Mode)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()

	path := writeConfig(t, dir, "relay:\n  mode: broadcast\n")
	if _, err := LoadConfig(path, nil); !errors.Is(err, session.ErrUnknownMode) {
		t.Errorf("unknown mode err = %v", err)
	}

	path = writeConfig(t, dir, "cluster:\n  enabled: true\n  bus_type: kafka\n")
	if _, err := LoadConfig(path, nil); !errors.Is(err, ErrUnknownBusType) {
		t.Errorf("unknown bus err = %v", err)
	}
}

func TestLoadConfig_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")

	reloaded := make(chan Config, 4)
	if _, err := LoadConfig(path, func(c Config) { reloaded <- c }); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	// 等待watcher就绪
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "log:\n  level: debug\n")

	timeout := time.After(5 * time.Second)
	for {
		select {
		case c := <-reloaded:
			if c.Log.Level == "debug" {
				return
			}
		case <-timeout:
			t.Fatal("config change not observed")
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
