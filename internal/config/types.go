package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Masking   MaskingConfig   `yaml:"masking" mapstructure:"masking"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer" mapstructure:"analyzer"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port              int           `yaml:"port" mapstructure:"port"`
	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"` // per client IP, 0 disables
}

// MaskingConfig selects the built-in detectors applied before text leaves the host
type MaskingConfig struct {
	Detectors    []string `yaml:"detectors" mapstructure:"detectors"` // detector ids, "all" or "default"
	CacheResults bool     `yaml:"cache_results" mapstructure:"cache_results"`
}

// AnalyzerConfig configures the remote risk-identification model
type AnalyzerConfig struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"` // openai, qwen, kimi, doubao, mimo, gemini, none
	Model             string        `yaml:"model" mapstructure:"model"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Temperature       float32       `yaml:"temperature" mapstructure:"temperature"`
	JSONMode          bool          `yaml:"json_mode" mapstructure:"json_mode"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Stance            string        `yaml:"stance" mapstructure:"stance"`         // party_a, party_b, neutral
	Strictness        string        `yaml:"strictness" mapstructure:"strictness"` // strict, balanced, lenient
}

// ReviewConfig contains review workspace behaviour
type ReviewConfig struct {
	AnimationWindow time.Duration `yaml:"animation_window" mapstructure:"animation_window"`
	RecentSessions  int           `yaml:"recent_sessions" mapstructure:"recent_sessions"`
	MaxOpen         int           `yaml:"max_open" mapstructure:"max_open"`
}

// StorageConfig contains the session and rule database configuration
type StorageConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"` // empty keeps everything in memory
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig contains masking result cache configuration
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Path           string   `yaml:"path" mapstructure:"path"`
	Username       string   `yaml:"username" mapstructure:"username"`
	Password       string   `yaml:"password" mapstructure:"password"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Events         struct {
		BroadcastReview      bool `yaml:"broadcast_review" mapstructure:"broadcast_review"`
		BroadcastMasking     bool `yaml:"broadcast_masking" mapstructure:"broadcast_masking"`
		BroadcastSessions    bool `yaml:"broadcast_sessions" mapstructure:"broadcast_sessions"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              8080,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      120 * time.Second, // analysis calls are slow
			IdleTimeout:       60 * time.Second,
			RequestsPerMinute: 600,
		},
		Masking: MaskingConfig{
			Detectors:    []string{"default"},
			CacheResults: false,
		},
		Analyzer: AnalyzerConfig{
			Provider:          "none",
			Timeout:           90 * time.Second,
			Temperature:       0.2,
			JSONMode:          true,
			RequestsPerMinute: 20,
			Stance:            "neutral",
			Strictness:        "balanced",
		},
		Review: ReviewConfig{
			AnimationWindow: 600 * time.Millisecond,
			RecentSessions:  20,
			MaxOpen:         256,
		},
		Storage: StorageConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     24 * time.Hour,
			KeyPrefix:      "contract-sentinel",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
		},
	}

	cfg.Logging.File.Path = "logs/contract-sentinel.log"
	cfg.WebSocket.Events.BroadcastReview = true
	cfg.WebSocket.Events.BroadcastMasking = true
	cfg.WebSocket.Events.BroadcastSessions = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}
