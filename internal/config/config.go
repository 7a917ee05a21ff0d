package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Generation GenerationConfig `mapstructure:"generation"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token          string        `mapstructure:"token"`
	Webhook        WebhookConfig `mapstructure:"webhook"`
	UpdateTimeout  int           `mapstructure:"update_timeout"`
	RenderMarkdown bool          `mapstructure:"render_markdown"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
}

// GenerationConfig describes the OpenAI-compatible chat completion backend.
type GenerationConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float32 `mapstructure:"temperature"`
	ShowThinking bool    `mapstructure:"show_thinking"`
}

// RelayConfig holds the request lifecycle timings.
type RelayConfig struct {
	// Deadline bounds a single generation call and must stay below HostTimeout.
	Deadline          time.Duration `mapstructure:"deadline"`
	HostTimeout       time.Duration `mapstructure:"host_timeout"`
	Animate           bool          `mapstructure:"animate"`
	AnimationInterval time.Duration `mapstructure:"animation_interval"`
	// EditTimeout bounds each Telegram call made while handling a request.
	EditTimeout       time.Duration `mapstructure:"edit_timeout"`
}

type AdmissionConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

var envBindings = map[string][]string{
	"bot.token":                {"BOT_TOKEN", "TELEGRAM_TOKEN"},
	"bot.webhook.enabled":      {"WEBHOOK_ENABLED"},
	"bot.webhook.url":          {"WEBHOOK_URL"},
	"bot.webhook.port":         {"PORT"},
	"generation.api_key":       {"GENERATION_API_KEY", "GEMINI_API_KEY"},
	"generation.base_url":      {"GENERATION_BASE_URL"},
	"generation.model":         {"GENERATION_MODEL"},
	"relay.deadline":           {"RELAY_DEADLINE"},
	"relay.host_timeout":       {"RELAY_HOST_TIMEOUT"},
	"relay.edit_timeout":       {"RELAY_EDIT_TIMEOUT"},
	"admission.type":           {"ADMISSION_TYPE"},
	"admission.redis.addr":     {"REDIS_ADDR"},
	"admission.redis.password": {"REDIS_PASSWORD"},
	"admission.redis.db":       {"REDIS_DB"},
	"logging.level":            {"LOG_LEVEL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("bot.webhook.port", 5000)
	v.SetDefault("generation.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("generation.model", "gemini-1.5-flash")
	v.SetDefault("generation.max_tokens", 1024)
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("relay.deadline", 9*time.Second)
	v.SetDefault("relay.host_timeout", 10*time.Second)
	v.SetDefault("relay.animate", true)
	v.SetDefault("relay.animation_interval", 1200*time.Millisecond)
	v.SetDefault("relay.edit_timeout", 2*time.Second)
	v.SetDefault("admission.type", "memory")
	v.SetDefault("admission.redis.key_prefix", "relay:inflight:")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("rate_limit.requests_per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("monitoring.metrics.path", "/metrics")
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("i18n.default_language", "ru")
	v.SetDefault("i18n.languages", []string{"ru", "en"})
}

// LoadConfig loads configuration from an optional YAML file and environment variables.
// A missing file is not an error: serverless deployments configure everything through env.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Bot.Token = strings.TrimSpace(config.Bot.Token)
	config.Generation.APIKey = strings.TrimSpace(config.Generation.APIKey)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return errors.New("bot token is required")
	}
	if cfg.Generation.APIKey == "" {
		return errors.New("generation api key is required")
	}
	if cfg.Generation.Model == "" {
		return errors.New("generation model is required")
	}
	if cfg.Relay.Deadline <= 0 {
		return errors.New("relay deadline must be positive")
	}
	if cfg.Relay.HostTimeout > 0 && cfg.Relay.Deadline >= cfg.Relay.HostTimeout {
		return fmt.Errorf("relay deadline %s must be shorter than host timeout %s", cfg.Relay.Deadline, cfg.Relay.HostTimeout)
	}
	if cfg.Relay.EditTimeout <= 0 {
		return errors.New("relay edit timeout must be positive")
	}
	if cfg.Relay.Animate && cfg.Relay.AnimationInterval < time.Second {
		return fmt.Errorf("animation interval %s is below the telegram edit rate ceiling", cfg.Relay.AnimationInterval)
	}
	if cfg.Bot.Webhook.Enabled && cfg.Bot.Webhook.Port <= 0 {
		return errors.New("webhook port is required when webhook is enabled")
	}
	switch cfg.Admission.Type {
	case "memory":
	case "redis":
		if cfg.Admission.Redis.Addr == "" {
			return errors.New("redis address is required for redis admission")
		}
	default:
		return fmt.Errorf("unsupported admission type: %s", cfg.Admission.Type)
	}
	return nil
}
