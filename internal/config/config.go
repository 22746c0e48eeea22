package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	CacheVersion       string        `mapstructure:"CACHE_VERSION"`
	CacheTTL           time.Duration `mapstructure:"CACHE_TTL"`
	CacheMaxAge        time.Duration `mapstructure:"CACHE_MAX_AGE"`
	AutoSyncInterval   time.Duration `mapstructure:"AUTOSYNC_INTERVAL"`
	ProbeInterval      time.Duration `mapstructure:"CONNECTIVITY_PROBE_INTERVAL"`
	SaveDebounce       time.Duration `mapstructure:"SAVE_DEBOUNCE"`
	FollowUpSessionTTL time.Duration `mapstructure:"FOLLOWUP_SESSION_TTL"`

	LLMAPIKey  string        `mapstructure:"LLM_API_KEY"`
	LLMBaseURL string        `mapstructure:"LLM_BASE_URL"`
	LLMModel   string        `mapstructure:"LLM_MODEL"`
	LLMTimeout time.Duration `mapstructure:"LLM_TIMEOUT"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	DoctorChatID     int64  `mapstructure:"DOCTOR_CHAT_ID"`
	FontPath         string `mapstructure:"FONT_PATH"`

	S3Bucket   string `mapstructure:"S3_BUCKET"`
	S3Endpoint string `mapstructure:"S3_ENDPOINT"`
	S3Prefix   string `mapstructure:"S3_PREFIX"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "REDIS_URL",
	"CACHE_VERSION", "CACHE_TTL", "CACHE_MAX_AGE", "AUTOSYNC_INTERVAL",
	"CONNECTIVITY_PROBE_INTERVAL", "SAVE_DEBOUNCE", "FOLLOWUP_SESSION_TTL",
	"LLM_API_KEY", "LLM_BASE_URL", "LLM_MODEL", "LLM_TIMEOUT",
	"TELEGRAM_BOT_TOKEN", "DOCTOR_CHAT_ID", "FONT_PATH",
	"S3_BUCKET", "S3_ENDPOINT", "S3_PREFIX",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
}

// Load reads .env (when present) and the environment. Environment wins.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("CACHE_VERSION", "1")
	v.SetDefault("CACHE_TTL", "30m")
	v.SetDefault("CACHE_MAX_AGE", "24h")
	v.SetDefault("AUTOSYNC_INTERVAL", "30s")
	v.SetDefault("CONNECTIVITY_PROBE_INTERVAL", "15s")
	v.SetDefault("SAVE_DEBOUNCE", "1s")
	v.SetDefault("FOLLOWUP_SESSION_TTL", "2h")
	v.SetDefault("LLM_BASE_URL", "https://api.deepseek.com/v1")
	v.SetDefault("LLM_MODEL", "deepseek-chat")
	v.SetDefault("LLM_TIMEOUT", "45s")
	v.SetDefault("KAFKA_TOPIC", "consultations")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// a missing .env is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.KafkaBrokers) == 1 && strings.Contains(cfg.KafkaBrokers[0], ",") {
		cfg.KafkaBrokers = strings.Split(cfg.KafkaBrokers[0], ",")
	}
	for i, b := range cfg.KafkaBrokers {
		cfg.KafkaBrokers[i] = strings.TrimSpace(b)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects durations that would disable the cache or the workers and
// sinks that are only half configured.
func (c *Config) Validate() error {
	var errs []error

	positive := map[string]time.Duration{
		"CACHE_TTL":                   c.CacheTTL,
		"CACHE_MAX_AGE":               c.CacheMaxAge,
		"AUTOSYNC_INTERVAL":           c.AutoSyncInterval,
		"CONNECTIVITY_PROBE_INTERVAL": c.ProbeInterval,
		"LLM_TIMEOUT":                 c.LLMTimeout,
		"FOLLOWUP_SESSION_TTL":        c.FollowUpSessionTTL,
	}
	for _, k := range keys {
		if d, ok := positive[k]; ok && d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", k, d))
		}
	}
	if c.SaveDebounce < 0 {
		errs = append(errs, fmt.Errorf("SAVE_DEBOUNCE must not be negative, got %s", c.SaveDebounce))
	}
	if c.CacheMaxAge > 0 && c.CacheTTL > c.CacheMaxAge {
		errs = append(errs, fmt.Errorf("CACHE_TTL (%s) must not exceed CACHE_MAX_AGE (%s)", c.CacheTTL, c.CacheMaxAge))
	}
	if c.CacheVersion == "" {
		errs = append(errs, errors.New("CACHE_VERSION is required"))
	}
	if c.TelegramBotToken != "" && c.DoctorChatID == 0 {
		errs = append(errs, errors.New("DOCTOR_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set"))
	}
	if c.S3Endpoint != "" && c.S3Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required when S3_ENDPOINT is set"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}
