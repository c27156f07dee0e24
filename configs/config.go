package configs

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorelay/internal/bus/nats"
	"gorelay/internal/bus/redis"
	"gorelay/internal/relay"
	"gorelay/internal/session"
	"gorelay/internal/websocket"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var ErrUnknownBusType = errors.New("unknown bus type")

type Server struct {
	Addr      string           `mapstructure:"addr"`
	WebSocket websocket.Config `mapstructure:"websocket"`
}

type Cluster struct {
	Enabled bool         `mapstructure:"enabled"`
	BusType string       `mapstructure:"bus_type"` // 消息总线类型: "nats", "redis", "noop"
	Bridge  relay.Config `mapstructure:",squash"`
	NATS    nats.Config  `mapstructure:"nats"`
	Redis   redis.Config `mapstructure:"redis"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server  Server         `mapstructure:"server"`
	Relay   session.Config `mapstructure:"relay"`
	Cluster Cluster        `mapstructure:"cluster"`
	Log     Log            `mapstructure:"log"`
	Version string         `mapstructure:"version"`
}

// NewDefaultConfig creates a new Config with default values
func NewDefaultConfig() Config {
	return Config{
		Server: Server{
			Addr:      ":8080",
			WebSocket: websocket.DefaultConfig(),
		},
		Relay: session.DefaultConfig(),
		Cluster: Cluster{
			Enabled: false,
			BusType: "noop",
			Bridge:  relay.DefaultConfig(),
			NATS:    nats.DefaultConfig(),
			Redis:   redis.DefaultConfig(),
		},
		Log:     Log{Level: "info"},
		Version: "dev",
	}
}

// Validate checks values that cannot be defaulted
func (c Config) Validate() error {
	if _, err := session.ParseMode(string(c.Relay.Mode)); err != nil {
		return err
	}
	if c.Cluster.Enabled {
		switch c.Cluster.BusType {
		case "noop", "redis", "nats":
		default:
			return fmt.Errorf("%w: %q", ErrUnknownBusType, c.Cluster.BusType)
		}
	}
	return nil
}

// setDefaults 注册默认值，使环境变量可以覆盖文件中缺失的键
func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.websocket.read_limit", def.Server.WebSocket.ReadLimit)
	v.SetDefault("server.websocket.read_buffer_size", def.Server.WebSocket.ReadBufferSize)
	v.SetDefault("server.websocket.write_buffer_size", def.Server.WebSocket.WriteBufferSize)
	v.SetDefault("server.websocket.write_timeout", def.Server.WebSocket.WriteTimeout)

	v.SetDefault("relay.mode", string(def.Relay.Mode))
	v.SetDefault("relay.welcome", def.Relay.Welcome)
	v.SetDefault("relay.hub_capacity", def.Relay.HubCapacity)
	v.SetDefault("relay.heartbeat_interval", def.Relay.HeartbeatInterval)
	v.SetDefault("relay.milestone_every", def.Relay.MilestoneEvery)
	v.SetDefault("relay.publish_rate", def.Relay.PublishRate)
	v.SetDefault("relay.publish_burst", def.Relay.PublishBurst)

	v.SetDefault("cluster.enabled", def.Cluster.Enabled)
	v.SetDefault("cluster.bus_type", def.Cluster.BusType)
	v.SetDefault("cluster.topic", def.Cluster.Bridge.Topic)
	v.SetDefault("cluster.node_id", def.Cluster.Bridge.NodeID)
	v.SetDefault("cluster.dedup_ttl", def.Cluster.Bridge.DedupTTL)
	v.SetDefault("cluster.redis.addrs", def.Cluster.Redis.Addrs)
	v.SetDefault("cluster.nats.urls", def.Cluster.NATS.URLs)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("version", def.Version)
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v, NewDefaultConfig())

	// 支持环境变量, 例如 GORELAY_RELAY_MODE=heartbeat
	v.SetEnvPrefix("GORELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	return v
}

func decode(v *viper.Viper) (Config, error) {
	config := NewDefaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfig loads configuration from the specified file.
// An unreadable file falls back to defaults plus environment overrides.
// onReload, if not nil, receives every valid configuration after the file changes.
func LoadConfig(configFile string, onReload func(Config)) (Config, error) {
	v := newViper(configFile)

	fileLoaded := false
	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			slog.Error("Failed to read config file, using default config", "file", configFile, "error", err)
		} else {
			fileLoaded = true
		}
	}

	config, err := decode(v)
	if err != nil {
		return Config{}, err
	}

	if fileLoaded && onReload != nil {
		SetupConfigHotReload(v, onReload)
	}
	return config, nil
}

// SetupConfigHotReload sets up hot reload for the configuration file
func SetupConfigHotReload(v *viper.Viper, onReload func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("Config file changed", "file", e.Name, "op", e.Op.String())

		config, err := decode(v)
		if err != nil {
			slog.Error("Failed to unmarshal updated config", "error", err)
			return
		}

		onReload(config)
		slog.Info("Config reloaded successfully")
	})
	v.WatchConfig()
}

// ParseLogLevel parses a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
