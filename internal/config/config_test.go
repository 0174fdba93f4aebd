package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if cfg.Analyzer.Provider != "none" {
			t.Errorf("Expected provider 'none', got '%s'", cfg.Analyzer.Provider)
		}
		if cfg.Review.AnimationWindow != 600*time.Millisecond {
			t.Errorf("Expected 600ms animation window, got %v", cfg.Review.AnimationWindow)
		}
		if len(cfg.Masking.Detectors) != 1 || cfg.Masking.Detectors[0] != "default" {
			t.Errorf("Expected default detectors, got %v", cfg.Masking.Detectors)
		}
	})

	t.Run("FileOverrides", func(t *testing.T) {
		path := writeConfig(t, strings.Join([]string{
			"server:",
			"  port: 9090",
			"masking:",
			"  detectors: [money, email]",
			"analyzer:",
			"  provider: qwen",
			"  model: qwen-plus",
			"  stance: party_a",
			"review:",
			"  animation_window: 250ms",
		}, "\n"))

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Analyzer.Provider != "qwen" || cfg.Analyzer.Model != "qwen-plus" {
			t.Errorf("Unexpected analyzer config: %+v", cfg.Analyzer)
		}
		if cfg.Analyzer.Strictness != "balanced" {
			t.Errorf("Unset keys should keep defaults, got strictness '%s'", cfg.Analyzer.Strictness)
		}
		if cfg.Review.AnimationWindow != 250*time.Millisecond {
			t.Errorf("Expected 250ms, got %v", cfg.Review.AnimationWindow)
		}
		if len(cfg.Masking.Detectors) != 2 {
			t.Errorf("Expected two detectors, got %v", cfg.Masking.Detectors)
		}
	})

	t.Run("EnvironmentOverride", func(t *testing.T) {
		t.Setenv("CONTRACT_SENTINEL_ANALYZER_API_KEY", "sk-test")
		cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if cfg.Analyzer.APIKey != "sk-test" {
			t.Errorf("Expected API key from environment, got '%s'", cfg.Analyzer.APIKey)
		}
	})

	t.Run("FileUsedExplicit", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 8080\n")
		if _, err := Load(path); err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if FileUsed() != path {
			t.Errorf("Expected file used '%s', got '%s'", path, FileUsed())
		}
	})

	t.Run("FileUsedFromSearchPath", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9191\n"), 0o600); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}
		t.Chdir(dir)

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if cfg.Server.Port != 9191 {
			t.Errorf("Expected discovered file to set port 9191, got %d", cfg.Server.Port)
		}
		if filepath.Base(FileUsed()) != "config.yaml" {
			t.Errorf("Expected discovered config file to be reported, got '%s'", FileUsed())
		}
	})

	t.Run("NoFileUsed", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())
		if _, err := Load(""); err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if FileUsed() != "" {
			t.Errorf("Expected no config file, got '%s'", FileUsed())
		}
	})

	t.Run("InvalidProvider", func(t *testing.T) {
		_, err := Load(writeConfig(t, "analyzer:\n  provider: skynet\n"))
		if err == nil {
			t.Fatal("Expected error for unknown provider")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"bad stance", func(c *Config) { c.Analyzer.Stance = "plaintiff" }, true},
		{"bad strictness", func(c *Config) { c.Analyzer.Strictness = "harsh" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"negative animation", func(c *Config) { c.Review.AnimationWindow = -time.Second }, true},
		{"zero recent sessions", func(c *Config) { c.Review.RecentSessions = 0 }, true},
		{"gemini provider", func(c *Config) { c.Analyzer.Provider = "gemini" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
