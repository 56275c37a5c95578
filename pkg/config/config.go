package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultSTUNServer is the only ICE server used when none is configured.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// ICEServer is a STUN or TURN server entry.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Address         string        `yaml:"address"`
		URL             string        `yaml:"url"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		DialTimeout     time.Duration `yaml:"dial_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Call struct {
		RingTimeout   time.Duration `yaml:"ring_timeout"`
		TickInterval  time.Duration `yaml:"tick_interval"`
		HistoryLimit  int           `yaml:"history_limit"`
		PresenceRetry time.Duration `yaml:"presence_retry"`
	} `yaml:"call"`

	Identity struct {
		Token string `yaml:"token"`
	} `yaml:"identity"`

	Reliability struct {
		MaxAttempts      int           `yaml:"max_attempts"`
		InitialDelay     time.Duration `yaml:"initial_delay"`
		MaxDelay         time.Duration `yaml:"max_delay"`
		FailureThreshold int           `yaml:"failure_threshold"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		IssueTokens    bool          `yaml:"issue_tokens"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty")
	}
	if !strings.HasPrefix(c.Signal.URL, "ws://") && !strings.HasPrefix(c.Signal.URL, "wss://") {
		return fmt.Errorf("signal.url must use ws:// or wss://")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.DialTimeout <= 0 {
		return fmt.Errorf("signal.dial_timeout must be > 0")
	}
	if c.Signal.ShutdownTimeout <= 0 {
		return fmt.Errorf("signal.shutdown_timeout must be > 0")
	}

	// WebRTC
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				if s.Username == "" || s.Credential == "" {
					return fmt.Errorf("webrtc.ice_servers[%d] turn server requires username and credential", i)
				}
			}
		}
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Call
	if c.Call.RingTimeout <= 0 {
		return fmt.Errorf("call.ring_timeout must be > 0")
	}
	if c.Call.TickInterval <= 0 {
		return fmt.Errorf("call.tick_interval must be > 0")
	}
	if c.Call.HistoryLimit <= 0 {
		return fmt.Errorf("call.history_limit must be > 0")
	}
	if c.Call.PresenceRetry <= 0 {
		return fmt.Errorf("call.presence_retry must be > 0")
	}

	// Reliability
	if c.Reliability.MaxAttempts <= 0 {
		return fmt.Errorf("reliability.max_attempts must be > 0")
	}
	if c.Reliability.InitialDelay <= 0 || c.Reliability.MaxDelay < c.Reliability.InitialDelay {
		return fmt.Errorf("reliability.initial_delay must be > 0 and <= max_delay")
	}
	if c.Reliability.FailureThreshold <= 0 {
		return fmt.Errorf("reliability.failure_threshold must be > 0")
	}
	if c.Reliability.BreakerTimeout <= 0 {
		return fmt.Errorf("reliability.breaker_timeout must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// EffectiveICEServers returns the configured ICE servers or the default STUN server.
func (c *Config) EffectiveICEServers() []ICEServer {
	if len(c.WebRTC.ICEServers) > 0 {
		return c.WebRTC.ICEServers
	}
	return []ICEServer{{URLs: []string{DefaultSTUNServer}}}
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Address = ":8081"
	cfg.Signal.URL = "ws://localhost:8081/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.DialTimeout = 10 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.Call.RingTimeout = 45 * time.Second
	cfg.Call.TickInterval = time.Second
	cfg.Call.PresenceRetry = 30 * time.Second
	cfg.Call.HistoryLimit = 50

	cfg.Reliability.MaxAttempts = 5
	cfg.Reliability.InitialDelay = 200 * time.Millisecond
	cfg.Reliability.MaxDelay = 10 * time.Second
	cfg.Reliability.FailureThreshold = 5
	cfg.Reliability.BreakerTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CALLNET_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("CALLNET_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if url := os.Getenv("CALLNET_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if level := os.Getenv("CALLNET_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CALLNET_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if token := os.Getenv("CALLNET_IDENTITY_TOKEN"); token != "" {
		c.Identity.Token = token
	}
	if addr := os.Getenv("CALLNET_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
