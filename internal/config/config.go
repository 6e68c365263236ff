package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Budget    BudgetConfig    `yaml:"budget" mapstructure:"budget"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig holds grants registry API settings.
type RegistryConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	Source         string  `yaml:"source" mapstructure:"source"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// AnthropicConfig holds Anthropic API settings for the two model tiers.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	CheapModel   string `yaml:"cheap_model" mapstructure:"cheap_model"`
	CapableModel string `yaml:"capable_model" mapstructure:"capable_model"`
}

// SyncConfig configures one discovery sync run.
type SyncConfig struct {
	MaxPerRun        int     `yaml:"max_per_run" mapstructure:"max_per_run"`
	WallClockSecs    int     `yaml:"wall_clock_secs" mapstructure:"wall_clock_secs"`
	MinAwardCeiling  float64 `yaml:"min_award_ceiling" mapstructure:"min_award_ceiling"`
	MinWeightedScore float64 `yaml:"min_weighted_score" mapstructure:"min_weighted_score"`
	SchedulerSecret  string  `yaml:"scheduler_secret" mapstructure:"scheduler_secret"`
	ExtractMaxTokens int64   `yaml:"extract_max_tokens" mapstructure:"extract_max_tokens"`
	ScoringMaxTokens int64   `yaml:"scoring_max_tokens" mapstructure:"scoring_max_tokens"`
	DetailMaxChars   int     `yaml:"detail_max_chars" mapstructure:"detail_max_chars"`
}

// BudgetConfig configures the shared monthly token ceiling. The ledger is
// shared with the drafting assistant, which spends against the same period.
type BudgetConfig struct {
	MonthlyTokenCeiling int64 `yaml:"monthly_token_ceiling" mapstructure:"monthly_token_ceiling"`
}

// ServerConfig configures the trigger/cancel HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GRANTSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("registry.base_url", "https://api.grants.gov/v1/api")
	v.SetDefault("registry.source", "grants.gov")
	v.SetDefault("registry.timeout_secs", 30)
	v.SetDefault("registry.requests_per_sec", 2.0)
	v.SetDefault("anthropic.cheap_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.capable_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("sync.max_per_run", 20)
	v.SetDefault("sync.wall_clock_secs", 600)
	v.SetDefault("sync.min_award_ceiling", 5000)
	v.SetDefault("sync.min_weighted_score", 5.0)
	v.SetDefault("sync.extract_max_tokens", 1024)
	v.SetDefault("sync.scoring_max_tokens", 2048)
	v.SetDefault("sync.detail_max_chars", 24000)
	v.SetDefault("budget.monthly_token_ceiling", 5000000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
