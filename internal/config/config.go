package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Identity IdentityConfig `mapstructure:"identity"`
}

// ProviderConfig selects and configures the reasoning backend.
type ProviderConfig struct {
	BaseURL string  `mapstructure:"base_url"`
	APIKey  string  `mapstructure:"api_key"`
	Model   string  `mapstructure:"model"`
	Timeout int     `mapstructure:"timeout_seconds"`
	Temp    float64 `mapstructure:"temperature"`
	Tokens  int     `mapstructure:"max_tokens"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	MaxIterations     int `mapstructure:"max_iterations"`
	InactivityTimeout int `mapstructure:"inactivity_timeout_seconds"`
	HeartbeatPoll     int `mapstructure:"heartbeat_poll_seconds"`
	MaxSubAgents      int `mapstructure:"max_sub_agents"`
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldown   int `mapstructure:"breaker_cooldown_seconds"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig locates durable state.
type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// IdentityConfig locates agent identity presets.
type IdentityConfig struct {
	PresetsFile string `mapstructure:"presets_file"`
}

// InactivityTimeoutDuration returns the heartbeat window as a duration.
func (c EngineConfig) InactivityTimeoutDuration() time.Duration {
	return time.Duration(c.InactivityTimeout) * time.Second
}

// HeartbeatPollDuration returns the supervisor poll interval as a duration.
func (c EngineConfig) HeartbeatPollDuration() time.Duration {
	return time.Duration(c.HeartbeatPoll) * time.Second
}

// BreakerCooldownDuration returns the breaker cooldown as a duration.
func (c EngineConfig) BreakerCooldownDuration() time.Duration {
	return time.Duration(c.BreakerCooldown) * time.Second
}

// Load reads configuration from an optional YAML file plus CONDUCTOR_*
// environment variables, over built-in defaults. An empty path searches
// conductor.yaml in the working directory and $HOME.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("conductor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		if err := v.ReadInConfig(); err != nil {
			// Defaults plus env are a valid configuration on their own.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("provider.model", "deepseek/deepseek-chat")
	v.SetDefault("provider.timeout_seconds", 120)
	v.SetDefault("provider.temperature", 0.7)
	v.SetDefault("provider.max_tokens", 4096)

	v.SetDefault("engine.max_iterations", 50)
	v.SetDefault("engine.inactivity_timeout_seconds", 300)
	v.SetDefault("engine.heartbeat_poll_seconds", 30)
	v.SetDefault("engine.max_sub_agents", 3)
	v.SetDefault("engine.breaker_threshold", 3)
	v.SetDefault("engine.breaker_cooldown_seconds", 60)

	v.SetDefault("server.addr", ":8420")
	v.SetDefault("storage.dir", "~/.conductor/state")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "~/conductor-debug.log")
}

func (c *Config) validate() error {
	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive")
	}
	if c.Engine.MaxSubAgents <= 0 {
		return fmt.Errorf("engine.max_sub_agents must be positive")
	}
	if c.Engine.InactivityTimeout <= c.Engine.HeartbeatPoll {
		return fmt.Errorf("engine.inactivity_timeout_seconds must exceed heartbeat_poll_seconds")
	}
	return nil
}
