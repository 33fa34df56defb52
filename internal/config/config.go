// Package config loads application settings from config.yaml, .env and
// BENEFIT_* environment variables.
package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Ranking    RankingConfig    `yaml:"ranking" mapstructure:"ranking"`
	Features   FeaturesConfig   `yaml:"features" mapstructure:"features"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Push       PushConfig       `yaml:"push" mapstructure:"push"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the run store. Driver is sqlite, postgres or none.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RankingConfig configures the ranking engine.
type RankingConfig struct {
	TopN        int    `yaml:"top_n" mapstructure:"top_n"`
	Workers     int    `yaml:"workers" mapstructure:"workers"`
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
	// EligibilityFactor overrides every catalog product's eligibility
	// factor when EligibilityFactorSet; zero is a valid override.
	EligibilityFactor    float64 `yaml:"eligibility_factor" mapstructure:"eligibility_factor"`
	EligibilityFactorSet bool    `yaml:"-" mapstructure:"-"`
}

// FeaturesConfig configures feature aggregation from raw statements.
type FeaturesConfig struct {
	BaseCurrency    string `yaml:"base_currency" mapstructure:"base_currency"`
	CategoryMapPath string `yaml:"category_map_path" mapstructure:"category_map_path"`
}

// ExportConfig configures output artifacts.
type ExportConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	XLSX          bool   `yaml:"xlsx" mapstructure:"xlsx"`
	PerClientJSON bool   `yaml:"per_client_json" mapstructure:"per_client_json"`
}

// PushConfig configures notification texts.
type PushConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Currency  string `yaml:"currency" mapstructure:"currency"`
	MaxLength int    `yaml:"max_length" mapstructure:"max_length"`
	// Refine rewrites templated texts through Anthropic.
	Refine      bool `yaml:"refine" mapstructure:"refine"`
	Concurrency int  `yaml:"concurrency" mapstructure:"concurrency"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	// Pricing overrides per-model token rates, USD per million tokens.
	Pricing map[string]ModelPricing `yaml:"pricing" mapstructure:"pricing"`
}

// ModelPricing holds per-model token pricing.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// RetryConfig configures retries of external calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run health alerts raised by serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// StaleRunMinutes flags runs still running after this long.
	StaleRunMinutes int `yaml:"stale_run_minutes" mapstructure:"stale_run_minutes"`
}

// Load reads configuration from .env, config.yaml and the environment.
// Environment variables win over the file.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BENEFIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "benefit.db")
	v.SetDefault("ranking.top_n", 4)
	v.SetDefault("ranking.workers", 8)
	v.SetDefault("ranking.catalog_path", "")
	// No default: IsSet must only see an explicit file or env value.
	_ = v.BindEnv("ranking.eligibility_factor", "BENEFIT_RANKING_ELIGIBILITY_FACTOR")
	v.SetDefault("features.base_currency", "KZT")
	v.SetDefault("features.category_map_path", "")
	v.SetDefault("export.dir", "out")
	v.SetDefault("export.xlsx", false)
	v.SetDefault("export.per_client_json", true)
	v.SetDefault("push.enabled", true)
	v.SetDefault("push.currency", "KZT")
	v.SetDefault("push.max_length", 220)
	v.SetDefault("push.refine", false)
	v.SetDefault("push.concurrency", 4)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stale_run_minutes", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Ranking.EligibilityFactorSet = v.IsSet("ranking.eligibility_factor")

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of rank,
// features, catalog, runs or serve.
func (c *Config) Validate(mode string) error {
	var errs []string
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	needsStore := false
	switch mode {
	case "rank":
		needsStore = true
		check(c.Ranking.TopN >= 1, "ranking.top_n must be >= 1")
		check(c.Ranking.Workers >= 1 && c.Ranking.Workers <= 256, "ranking.workers must be between 1 and 256")
		check(c.Ranking.EligibilityFactor >= 0, "ranking.eligibility_factor must be >= 0")
		check(c.Export.Dir != "", "export.dir is required")
		check(c.Push.MaxLength >= 20, "push.max_length must be >= 20")
		if c.Push.Enabled && c.Push.Refine {
			check(c.Anthropic.Key != "", "anthropic.key is required when push.refine is set")
			check(c.Anthropic.RequestsPerSecond > 0, "anthropic.requests_per_second must be > 0")
			check(c.Retry.MaxAttempts >= 1, "retry.max_attempts must be >= 1")
		}
	case "features":
		check(c.Export.Dir != "", "export.dir is required")
	case "catalog":
		check(c.Ranking.EligibilityFactor >= 0, "ranking.eligibility_factor must be >= 0")
	case "runs":
		needsStore = true
		check(c.Store.Driver != "none", "store.driver is none; no runs are recorded")
	case "serve":
		needsStore = true
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Ranking.TopN >= 1, "ranking.top_n must be >= 1")
		check(c.Ranking.Workers >= 1 && c.Ranking.Workers <= 256, "ranking.workers must be between 1 and 256")
		if c.Monitoring.Enabled {
			check(c.Store.Driver != "none", "monitoring.enabled requires a store")
			check(c.Monitoring.FailureRateThreshold > 0 && c.Monitoring.FailureRateThreshold <= 1, "monitoring.failure_rate_threshold must be in (0, 1]")
			check(c.Monitoring.LookbackWindowHours > 0, "monitoring.lookback_window_hours must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsStore {
		switch c.Store.Driver {
		case "sqlite", "postgres":
			check(c.Store.DatabaseURL != "", "store.database_url is required")
		case "none", "":
		default:
			errs = append(errs, "store.driver must be sqlite, postgres or none")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
