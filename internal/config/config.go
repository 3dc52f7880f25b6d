package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/adaptive-router/internal/events"
	"github.com/tributary-ai/adaptive-router/internal/learning"
	"github.com/tributary-ai/adaptive-router/internal/orchestrator"
	"github.com/tributary-ai/adaptive-router/internal/persistence"
	"github.com/tributary-ai/adaptive-router/internal/providers/anthropic"
	"github.com/tributary-ai/adaptive-router/internal/providers/openai"
	"github.com/tributary-ai/adaptive-router/internal/registry"
	"github.com/tributary-ai/adaptive-router/internal/routing"
	"github.com/tributary-ai/adaptive-router/internal/scorecard"
	"github.com/tributary-ai/adaptive-router/internal/security"
	"github.com/tributary-ai/adaptive-router/internal/shadow"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Router       routing.Config      `yaml:"router"`
	Scorecard    scorecard.Config    `yaml:"scorecard"`
	Learning     learning.Config     `yaml:"learning"`
	Shadow       shadow.Config       `yaml:"shadow"`
	Registry     RegistryConfig      `yaml:"registry"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Events       events.BusConfig    `yaml:"events"`
	Persistence  PersistenceConfig   `yaml:"persistence"`
	Providers    ProvidersConfig     `yaml:"providers"`
	Logging      LoggingConfig       `yaml:"logging"`
	Security     SecurityConfig      `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// RegistryConfig holds knowledge store and cold-start configuration
type RegistryConfig struct {
	// Path of the sqlite knowledge store; empty disables learned recommendations
	Path       string                                  `yaml:"path"`
	MinSamples int                                     `yaml:"min_samples"`
	Limit      int                                     `yaml:"limit"`
	Timeout    time.Duration                           `yaml:"timeout"`
	ColdStart  map[types.Domain]registry.ColdStartEntry `yaml:"cold_start"`
}

// PersistenceConfig holds snapshot configuration
type PersistenceConfig struct {
	Dir           string `yaml:"dir"`
	FlushSchedule string `yaml:"flush_schedule"`
}

// ProvidersConfig holds configuration for all providers. A provider block
// without an API key is not registered.
type ProvidersConfig struct {
	OpenAI              *openai.OpenAIConfig       `yaml:"openai"`
	Anthropic           *anthropic.AnthropicConfig `yaml:"anthropic"`
	HealthCheckInterval time.Duration              `yaml:"health_check_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" or "text"
	Output     string `yaml:"output"` // "stdout", "stderr", or file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig holds admin authentication and rate limiting
type SecurityConfig struct {
	Admin     security.Config          `yaml:"admin"`
	RateLimit security.RateLimitConfig `yaml:"rate_limit"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   180 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		MaxBodyBytes:   1 << 20,
	}

	c.Router = routing.DefaultConfig()
	c.Scorecard = scorecard.DefaultConfig()
	c.Learning = learning.DefaultConfig()
	c.Shadow = shadow.DefaultConfig()
	c.Shadow.JudgeProvider = "gpt-4o-mini"
	c.Orchestrator = orchestrator.DefaultConfig()

	c.Registry = RegistryConfig{
		Path:       "data/knowledge.db",
		MinSamples: registry.DefaultMinSamples,
		Limit:      registry.DefaultRecommendationLimit,
		Timeout:    2 * time.Second,
	}

	c.Events = events.BusConfig{
		BufferSize:  1000,
		HistorySize: 200,
	}

	c.Persistence = PersistenceConfig{
		Dir:           "data/snapshots",
		FlushSchedule: persistence.DefaultFlushSchedule,
	}

	c.Logging = LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
	}

	c.Security = SecurityConfig{
		Admin: security.Config{TokenExpiry: 24 * time.Hour},
		RateLimit: security.RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
			IdleTTL:           10 * time.Minute,
		},
	}

	c.Providers = ProvidersConfig{
		HealthCheckInterval: 30 * time.Second,
		OpenAI: &openai.OpenAIConfig{
			Models: []types.ModelInfo{
				{
					Name:            "gpt-4o",
					ProviderModelID: "gpt-4o",
					InputCostPer1K:  0.005,
					OutputCostPer1K: 0.015,
					MaxOutputTokens: 4096,
					Tier:            types.CostTierPremium,
				},
				{
					Name:            "gpt-4o-mini",
					ProviderModelID: "gpt-4o-mini",
					InputCostPer1K:  0.00015,
					OutputCostPer1K: 0.0006,
					MaxOutputTokens: 16384,
					Tier:            types.CostTierCheap,
				},
			},
			Timeout: 120 * time.Second,
		},
		Anthropic: &anthropic.AnthropicConfig{
			Models: []types.ModelInfo{
				{
					Name:            "claude-3-5-sonnet-20241022",
					ProviderModelID: "claude-3-5-sonnet-20241022",
					InputCostPer1K:  0.003,
					OutputCostPer1K: 0.015,
					MaxOutputTokens: 8192,
					Tier:            types.CostTierPremium,
				},
				{
					Name:            "claude-3-haiku-20240307",
					ProviderModelID: "claude-3-haiku-20240307",
					InputCostPer1K:  0.00025,
					OutputCostPer1K: 0.00125,
					MaxOutputTokens: 4096,
					Tier:            types.CostTierCheap,
				},
			},
			Timeout: 120 * time.Second,
		},
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("LLM_ROUTER_PORT"); port != "" {
		c.Server.Port = port
	}

	// Provider API keys
	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" && c.Providers.OpenAI != nil {
		c.Providers.OpenAI.APIKey = openaiKey
	}
	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" && c.Providers.Anthropic != nil {
		c.Providers.Anthropic.APIKey = anthropicKey
	}

	if level := os.Getenv("LLM_ROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LLM_ROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if enabled := os.Getenv("LLM_ROUTER_SHADOW_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			c.Shadow.Enabled = v
		}
	}
	if dir := os.Getenv("LLM_ROUTER_SNAPSHOT_DIR"); dir != "" {
		c.Persistence.Dir = dir
	}
	if secret := os.Getenv("LLM_ROUTER_ADMIN_SECRET"); secret != "" {
		c.Security.Admin.AdminSecret = secret
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if c.Router.MaxRetries <= 0 {
		return fmt.Errorf("router max_retries must be positive, got %d", c.Router.MaxRetries)
	}
	if c.Router.AttemptTimeout <= 0 {
		return fmt.Errorf("router attempt_timeout must be positive")
	}
	switch c.Router.Backoff.Type {
	case "", "exponential", "linear", "constant":
	default:
		return fmt.Errorf("invalid backoff type: %s", c.Router.Backoff.Type)
	}

	if c.Scorecard.WindowSize <= 0 {
		return fmt.Errorf("scorecard window_size must be positive, got %d", c.Scorecard.WindowSize)
	}
	w := c.Scorecard.Weights
	if w.Latency < 0 || w.Cost < 0 || w.Reliability < 0 {
		return fmt.Errorf("scorecard weights must be non-negative")
	}
	if w.Latency+w.Cost+w.Reliability == 0 {
		return fmt.Errorf("scorecard weights must not all be zero")
	}

	if err := c.Learning.Validate(); err != nil {
		return fmt.Errorf("learning: %w", err)
	}

	if c.Shadow.ExperimentRate < 0 || c.Shadow.ExperimentRate > 1 {
		return fmt.Errorf("shadow experiment_rate must be in [0,1], got %v", c.Shadow.ExperimentRate)
	}
	if c.Shadow.MaxConcurrent <= 0 {
		return fmt.Errorf("shadow max_concurrent must be positive")
	}
	if c.Orchestrator.ShadowRate < 0 || c.Orchestrator.ShadowRate > 1 {
		return fmt.Errorf("orchestrator shadow_rate must be in [0,1], got %v", c.Orchestrator.ShadowRate)
	}

	if c.Persistence.Dir == "" {
		return fmt.Errorf("persistence dir cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if len(c.EnabledProviders()) == 0 {
		return fmt.Errorf("at least one provider must be configured with an API key")
	}
	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" && len(c.Providers.OpenAI.Models) == 0 {
		return fmt.Errorf("OpenAI provider must have at least one model configured")
	}
	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" && len(c.Providers.Anthropic.Models) == 0 {
		return fmt.Errorf("Anthropic provider must have at least one model configured")
	}

	return nil
}

// EnabledProviders returns the upstream providers that have credentials
func (c *Config) EnabledProviders() []string {
	var providers []string

	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" {
		providers = append(providers, "openai")
	}
	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" {
		providers = append(providers, "anthropic")
	}

	return providers
}

// ToRegistryConfig converts to registry.Config
func (c *Config) ToRegistryConfig() registry.Config {
	return registry.Config{
		ColdStart: c.Registry.ColdStart,
		Limit:     c.Registry.Limit,
		Timeout:   c.Registry.Timeout,
	}
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
