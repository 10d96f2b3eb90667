package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/duvallglobal/theportal-sub000/internal/protocol"
	"github.com/duvallglobal/theportal-sub000/pkg/constant"
)

// Config holds all configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// ServerConfig holds portal endpoint configuration
type ServerConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
	WSURL      string `mapstructure:"ws_url"`
	PlatformId int    `mapstructure:"platform_id"`
}

// WebSocketConfig holds transport configuration
type WebSocketConfig struct {
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteChannelSize int           `mapstructure:"write_channel_size"`
}

// ReconnectConfig holds backoff configuration
type ReconnectConfig struct {
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	JitterFraction float64       `mapstructure:"jitter_fraction"`
}

// ReconcileConfig holds pending message policy
type ReconcileConfig struct {
	AckTimeout    time.Duration `mapstructure:"ack_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// CacheConfig holds the local snapshot cache location.
// An empty path disables the cache.
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// Default returns a Config with production defaults, for callers that
// embed the engine as a library and configure endpoints directly
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.APIBaseURL == "" {
		cfg.Server.APIBaseURL = "http://localhost:8080"
	}
	if cfg.Server.WSURL == "" {
		cfg.Server.WSURL = "ws://localhost:8080/ws"
	}
	if cfg.Server.PlatformId == 0 {
		cfg.Server.PlatformId = constant.PlatformIdWeb
	}
	if cfg.WebSocket.MaxMessageSize == 0 {
		cfg.WebSocket.MaxMessageSize = protocol.MaxMessageSize
	}
	if cfg.WebSocket.WriteWait == 0 {
		cfg.WebSocket.WriteWait = protocol.WriteWait
	}
	if cfg.WebSocket.PongWait == 0 {
		cfg.WebSocket.PongWait = protocol.PongWait
	}
	if cfg.WebSocket.PingPeriod == 0 {
		cfg.WebSocket.PingPeriod = (cfg.WebSocket.PongWait * 9) / 10
	}
	if cfg.WebSocket.HandshakeTimeout == 0 {
		cfg.WebSocket.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WebSocket.WriteChannelSize == 0 {
		cfg.WebSocket.WriteChannelSize = 256
	}
	if cfg.Reconnect.BaseDelay == 0 {
		cfg.Reconnect.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = 30 * time.Second
	}
	if cfg.Reconnect.JitterFraction == 0 {
		cfg.Reconnect.JitterFraction = 0.2
	}
	if cfg.Reconcile.AckTimeout == 0 {
		cfg.Reconcile.AckTimeout = 30 * time.Second
	}
	if cfg.Reconcile.SweepInterval == 0 {
		cfg.Reconcile.SweepInterval = 5 * time.Second
	}
}
