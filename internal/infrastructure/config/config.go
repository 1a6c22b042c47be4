// Package config loads and validates gateway configuration: defaults,
// layered YAML files, then RELAYGATE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/relaygate/relaygate/internal/infrastructure/llm"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Log       LogConfig                 `mapstructure:"log"`
	Routing   RoutingConfig             `mapstructure:"routing"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Tools     ToolsConfig               `mapstructure:"tools"`
	Retry     RetryConfig               `mapstructure:"retry"`
	Breaker   BreakerConfig             `mapstructure:"breaker"`
	Pool      PoolConfig                `mapstructure:"pool"`
	Memory    MemoryConfig              `mapstructure:"memory"`
	Embedding EmbeddingConfig           `mapstructure:"embedding"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
}

// ServerConfig is the HTTP front door.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig configures zap construction.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// RoutingConfig selects providers.
type RoutingConfig struct {
	Provider      string `mapstructure:"provider"`       // static primary
	LocalProvider string `mapstructure:"local_provider"` // force-local target
	Mode          string `mapstructure:"mode"`           // aggressive, heuristic, conservative

	// Tier targets, each "provider:model". Tier routing engages only when
	// all four are set.
	TierSimple    string `mapstructure:"tier_simple"`
	TierMedium    string `mapstructure:"tier_medium"`
	TierComplex   string `mapstructure:"tier_complex"`
	TierReasoning string `mapstructure:"tier_reasoning"`

	FallbackEnabled  bool   `mapstructure:"fallback_enabled"`
	FallbackProvider string `mapstructure:"fallback_provider"`

	DecisionLogSize int `mapstructure:"decision_log_size"`
}

// ProviderConfig is one upstream endpoint.
type ProviderConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	APIVersion string        `mapstructure:"api_version"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ToolsConfig tunes catalog injection and smart selection.
type ToolsConfig struct {
	InjectLocal bool `mapstructure:"inject_local"` // allow injection for local providers
	TokenBudget int  `mapstructure:"token_budget"` // schema-token ceiling, 0 = unlimited
}

// RetryConfig maps onto llm.RetryPolicy.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Jitter       float64       `mapstructure:"jitter"`
}

// BreakerConfig maps onto llm.BreakerConfig.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// PoolConfig maps onto llm.PoolConfig.
type PoolConfig struct {
	MaxSockets     int           `mapstructure:"max_sockets"`
	IdleKeepAlive  time.Duration `mapstructure:"idle_keepalive"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MemoryConfig tunes the memory store.
type MemoryConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	DataDir             string        `mapstructure:"data_dir"`
	SurpriseThreshold   float64       `mapstructure:"surprise_threshold"`
	MaxAgeDays          int           `mapstructure:"max_age_days"`
	MaxCount            int           `mapstructure:"max_count"`
	DedupLookback       int           `mapstructure:"dedup_lookback"`
	HalfLifeDays        float64       `mapstructure:"half_life_days"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// DatabasePath is the memory database location.
func (m MemoryConfig) DatabasePath() string {
	return filepath.Join(m.DataDir, "sessions.db")
}

// EmbeddingConfig enables the analyzer's semantic adjustment.
type EmbeddingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	OllamaURL string `mapstructure:"ollama_url"`
	Model     string `mapstructure:"model"`
}

// MetricsConfig tunes the cost model.
type MetricsConfig struct {
	CloudRatePerMTok float64 `mapstructure:"cloud_rate_per_mtok"`
}

// Load reads configuration in layers: defaults, the global file under
// ~/.relaygate, a project-local config.yaml, then environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".relaygate")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("RELAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("routing.provider", "ollama")
	v.SetDefault("routing.mode", "heuristic")
	v.SetDefault("routing.decision_log_size", 100)

	v.SetDefault("tools.inject_local", false)
	v.SetDefault("tools.token_budget", 2000)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.jitter", 0.25)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.recovery_timeout", "60s")

	v.SetDefault("pool.max_sockets", 50)
	v.SetDefault("pool.idle_keepalive", "30s")
	v.SetDefault("pool.request_timeout", "60s")

	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.data_dir", "data")
	v.SetDefault("memory.surprise_threshold", 0.3)
	v.SetDefault("memory.max_age_days", 90)
	v.SetDefault("memory.max_count", 10000)
	v.SetDefault("memory.dedup_lookback", 5)
	v.SetDefault("memory.half_life_days", 30)
	v.SetDefault("memory.maintenance_interval", "15m")

	v.SetDefault("embedding.enabled", false)
	v.SetDefault("embedding.ollama_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")

	v.SetDefault("metrics.cloud_rate_per_mtok", 5.0)
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	checkProvider := func(field, id string) error {
		if id == "" {
			return nil
		}
		if _, ok := llm.FamilyOf(id); !ok {
			return fmt.Errorf("%s: unknown provider %q (valid: %s)",
				field, id, strings.Join(llm.ValidIdentifiers(), ", "))
		}
		return nil
	}

	if c.Routing.Provider == "" {
		return fmt.Errorf("routing.provider is required")
	}
	if err := checkProvider("routing.provider", c.Routing.Provider); err != nil {
		return err
	}
	if err := checkProvider("routing.local_provider", c.Routing.LocalProvider); err != nil {
		return err
	}
	if err := checkProvider("routing.fallback_provider", c.Routing.FallbackProvider); err != nil {
		return err
	}
	for id := range c.Providers {
		if err := checkProvider("providers."+id, id); err != nil {
			return err
		}
	}

	switch c.Routing.Mode {
	case "", "aggressive", "heuristic", "conservative":
	default:
		return fmt.Errorf("routing.mode: unknown mode %q", c.Routing.Mode)
	}

	// Local providers cannot be fallback targets: falling back from a
	// failing local model to another local model defeats the purpose.
	if c.Routing.FallbackProvider != "" && llm.IsLocal(c.Routing.FallbackProvider) {
		return fmt.Errorf("routing.fallback_provider: local provider %q cannot be a fallback target", c.Routing.FallbackProvider)
	}
	if c.Routing.LocalProvider != "" && !llm.IsLocal(c.Routing.LocalProvider) {
		return fmt.Errorf("routing.local_provider: %q is not a local provider", c.Routing.LocalProvider)
	}

	// Tier settings are all-or-nothing.
	tiers := []string{c.Routing.TierSimple, c.Routing.TierMedium, c.Routing.TierComplex, c.Routing.TierReasoning}
	set := 0
	for _, t := range tiers {
		if t != "" {
			set++
		}
	}
	if set > 0 && set < 4 {
		return fmt.Errorf("routing: tier mode requires all four tiers (have %d)", set)
	}

	return nil
}
