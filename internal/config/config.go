package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	validProviders  = []string{"none", "openai", "qwen", "kimi", "doubao", "mimo", "gemini"}
	validStances    = []string{"party_a", "party_b", "neutral"}
	validStrictness = []string{"strict", "balanced", "lenient"}
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.Reset()
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/contract-sentinel/")
	viper.AddConfigPath("$HOME/.contract-sentinel/")

	// Environment variable overrides, e.g. CONTRACT_SENTINEL_ANALYZER_API_KEY
	viper.SetEnvPrefix("CONTRACT_SENTINEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	registerDefaults(config)

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// registerDefaults makes every key known to viper so that environment
// variables can override keys missing from the config file.
func registerDefaults(c *Config) {
	viper.SetDefault("server.port", c.Server.Port)
	viper.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	viper.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	viper.SetDefault("server.idle_timeout", c.Server.IdleTimeout)
	viper.SetDefault("server.requests_per_minute", c.Server.RequestsPerMinute)

	viper.SetDefault("masking.detectors", c.Masking.Detectors)
	viper.SetDefault("masking.cache_results", c.Masking.CacheResults)

	viper.SetDefault("analyzer.provider", c.Analyzer.Provider)
	viper.SetDefault("analyzer.model", c.Analyzer.Model)
	viper.SetDefault("analyzer.api_key", c.Analyzer.APIKey)
	viper.SetDefault("analyzer.base_url", c.Analyzer.BaseURL)
	viper.SetDefault("analyzer.timeout", c.Analyzer.Timeout)
	viper.SetDefault("analyzer.temperature", c.Analyzer.Temperature)
	viper.SetDefault("analyzer.json_mode", c.Analyzer.JSONMode)
	viper.SetDefault("analyzer.requests_per_minute", c.Analyzer.RequestsPerMinute)
	viper.SetDefault("analyzer.stance", c.Analyzer.Stance)
	viper.SetDefault("analyzer.strictness", c.Analyzer.Strictness)

	viper.SetDefault("review.animation_window", c.Review.AnimationWindow)
	viper.SetDefault("review.recent_sessions", c.Review.RecentSessions)
	viper.SetDefault("review.max_open", c.Review.MaxOpen)

	viper.SetDefault("storage.database_url", c.Storage.DatabaseURL)
	viper.SetDefault("storage.max_open_conns", c.Storage.MaxOpenConns)
	viper.SetDefault("storage.max_idle_conns", c.Storage.MaxIdleConns)
	viper.SetDefault("storage.conn_max_lifetime", c.Storage.ConnMaxLifetime)
	viper.SetDefault("storage.conn_max_idle_time", c.Storage.ConnMaxIdleTime)

	viper.SetDefault("cache.enabled", c.Cache.Enabled)
	viper.SetDefault("cache.redis_url", c.Cache.RedisURL)
	viper.SetDefault("cache.max_connections", c.Cache.MaxConnections)
	viper.SetDefault("cache.min_idle_conns", c.Cache.MinIdleConns)
	viper.SetDefault("cache.default_ttl", c.Cache.DefaultTTL)
	viper.SetDefault("cache.key_prefix", c.Cache.KeyPrefix)

	viper.SetDefault("logging.level", c.Logging.Level)
	viper.SetDefault("logging.format", c.Logging.Format)
	viper.SetDefault("logging.file.enabled", c.Logging.File.Enabled)
	viper.SetDefault("logging.file.path", c.Logging.File.Path)

	viper.SetDefault("websocket.enabled", c.WebSocket.Enabled)
	viper.SetDefault("websocket.path", c.WebSocket.Path)
	viper.SetDefault("websocket.username", c.WebSocket.Username)
	viper.SetDefault("websocket.password", c.WebSocket.Password)
	viper.SetDefault("websocket.allowed_origins", c.WebSocket.AllowedOrigins)
	viper.SetDefault("websocket.events.broadcast_review", c.WebSocket.Events.BroadcastReview)
	viper.SetDefault("websocket.events.broadcast_masking", c.WebSocket.Events.BroadcastMasking)
	viper.SetDefault("websocket.events.broadcast_sessions", c.WebSocket.Events.BroadcastSessions)
	viper.SetDefault("websocket.events.broadcast_connections", c.WebSocket.Events.BroadcastConnections)
}

// Validate checks a configuration for values the service cannot run with
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("invalid server requests_per_minute: %d", config.Server.RequestsPerMinute)
	}

	if !oneOf(config.Analyzer.Provider, validProviders) {
		return fmt.Errorf("invalid analyzer provider: %s (must be one of %s)",
			config.Analyzer.Provider, strings.Join(validProviders, ", "))
	}

	if !oneOf(config.Analyzer.Stance, validStances) {
		return fmt.Errorf("invalid analyzer stance: %s (must be one of %s)",
			config.Analyzer.Stance, strings.Join(validStances, ", "))
	}

	if !oneOf(config.Analyzer.Strictness, validStrictness) {
		return fmt.Errorf("invalid analyzer strictness: %s (must be one of %s)",
			config.Analyzer.Strictness, strings.Join(validStrictness, ", "))
	}

	if config.Analyzer.Timeout < 0 || config.Review.AnimationWindow < 0 || config.Cache.DefaultTTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}

	if config.Review.RecentSessions <= 0 {
		return fmt.Errorf("invalid review recent_sessions: %d", config.Review.RecentSessions)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// FileUsed returns the config file the last Load read, whether it was passed
// explicitly or found on the search path. It is empty when only defaults and
// environment variables were used.
func FileUsed() string {
	return viper.ConfigFileUsed()
}

// Watch starts watching the configuration file for changes. Invalid
// reloads are reported through onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		if err := Validate(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	viper.WatchConfig()
}
