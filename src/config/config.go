package config

import (
	"fmt"
	"os"

	"cashout-mirror/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()
	config.applyEnvOverrides()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if c.Network.RequestTimeout <= 0 {
		c.Network.RequestTimeout = 10
	}
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if c.Upstream.TokenTTLSeconds <= 0 {
		c.Upstream.TokenTTLSeconds = 300
	}
	if c.Upstream.BackoffBaseMs <= 0 {
		c.Upstream.BackoffBaseMs = 3000
	}
	if c.Upstream.BackoffMaxMs <= 0 {
		c.Upstream.BackoffMaxMs = 30000
	}
	if c.Upstream.WatchdogSeconds <= 0 {
		// Three missed 15s upstream keepalives
		c.Upstream.WatchdogSeconds = 45
	}
	if c.Upstream.ReconcileSeconds <= 0 {
		c.Upstream.ReconcileSeconds = 120
	}
	if c.Upstream.ResultResyncDelayMs <= 0 {
		c.Upstream.ResultResyncDelayMs = 1500
	}
	if c.Upstream.InjectResyncDelayMs <= 0 {
		c.Upstream.InjectResyncDelayMs = 2000
	}
	if c.Push.TTLSeconds <= 0 {
		c.Push.TTLSeconds = 60
	}
	if c.Push.QueueSize <= 0 {
		c.Push.QueueSize = 64
	}
	if c.Push.Subscriber == "" {
		c.Push.Subscriber = "mailto:suporte@sscashout.online"
	}
	if c.Cache.VelasLimit <= 0 {
		c.Cache.VelasLimit = 50
	}
	if c.Cache.ClickLogLimit <= 0 {
		c.Cache.ClickLogLimit = 200
	}
	if c.Cache.CampaignLimit <= 0 {
		c.Cache.CampaignLimit = 50
	}
}

// -----------------------------------------------------------------------------

// applyEnvOverrides lets secrets come from the environment instead of the
// YAML file. The baked-in VAPID fallbacks are for local use only.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		c.Push.VapidPublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		c.Push.VapidPrivateKey = v
	}
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL cannot be empty")
	}

	if c.Storage.DBType == "" {
		return fmt.Errorf("database type cannot be empty")
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty for sqlite")
	}
	if c.Storage.DBType == "postgres" && c.Storage.DBConnectionString == "" {
		return fmt.Errorf("connection string cannot be empty for postgres")
	}

	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Push.Enabled {
		if c.Push.VapidPublicKey == "" || c.Push.VapidPrivateKey == "" {
			return fmt.Errorf("push enabled but VAPID key pair is missing")
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
