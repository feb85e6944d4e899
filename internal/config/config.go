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
	Teachers   []ProviderConfig `yaml:"teachers" mapstructure:"teachers"`
	Students   []ProviderConfig `yaml:"students" mapstructure:"students"`
	Distill    DistillConfig    `yaml:"distill" mapstructure:"distill"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget"`
	Profiles   ProfilesConfig   `yaml:"profiles" mapstructure:"profiles"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ProviderConfig configures one LLM endpoint used as a teacher or student.
type ProviderConfig struct {
	Name               string  `yaml:"name" mapstructure:"name"`
	Type               string  `yaml:"type" mapstructure:"type"`
	Key                string  `yaml:"key" mapstructure:"key"`
	BaseURL            string  `yaml:"base_url" mapstructure:"base_url"`
	Model              string  `yaml:"model" mapstructure:"model"`
	MaxTokens          int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature        float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitPerMinute int     `yaml:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	BreakerThreshold   int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// Provider types understood by the default registry.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderLocal     = "local"
)

// DistillConfig controls the teacher/student pipeline.
type DistillConfig struct {
	Strategy              string  `yaml:"strategy" mapstructure:"strategy"`
	QualityThreshold      float64 `yaml:"quality_threshold" mapstructure:"quality_threshold"`
	CostOptimization      bool    `yaml:"cost_optimization" mapstructure:"cost_optimization"`
	AdaptiveLearning      bool    `yaml:"adaptive_learning" mapstructure:"adaptive_learning"`
	CachePatterns         bool    `yaml:"cache_patterns" mapstructure:"cache_patterns"`
	MaxTeacherExamples    int     `yaml:"max_teacher_examples" mapstructure:"max_teacher_examples"`
	StudentBatchSize      int     `yaml:"student_batch_size" mapstructure:"student_batch_size"`
	ValidationSampleRatio float64 `yaml:"validation_sample_ratio" mapstructure:"validation_sample_ratio"`
	SeedRetryAttempts     int     `yaml:"seed_retry_attempts" mapstructure:"seed_retry_attempts"`
	OptimizationStrategy  string  `yaml:"optimization_strategy" mapstructure:"optimization_strategy"`
	LearningScorer        string  `yaml:"learning_scorer" mapstructure:"learning_scorer"`
}

// BudgetConfig sets spending ceilings in USD. Zero disables a ceiling.
type BudgetConfig struct {
	Total               float64 `yaml:"total" mapstructure:"total"`
	Daily               float64 `yaml:"daily" mapstructure:"daily"`
	Hourly              float64 `yaml:"hourly" mapstructure:"hourly"`
	PerItem             float64 `yaml:"per_item" mapstructure:"per_item"`
	QualityCostRatioMin float64 `yaml:"quality_cost_ratio_min" mapstructure:"quality_cost_ratio_min"`
}

// Enabled reports whether any ceiling is configured.
func (b BudgetConfig) Enabled() bool {
	return b.Total > 0 || b.Daily > 0 || b.Hourly > 0
}

// ProfilesConfig points at optional cost-profile overrides.
type ProfilesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures background alert checks on recent runs.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	QualityFloor         float64 `yaml:"quality_floor" mapstructure:"quality_floor"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// BatchConfig controls multi-request batch runs.
type BatchConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
	MaxRequests       int `yaml:"max_requests" mapstructure:"max_requests"`
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
	v.SetEnvPrefix("DISTILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 10)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("distill.strategy", "response_based")
	v.SetDefault("distill.quality_threshold", 0.8)
	v.SetDefault("distill.cost_optimization", true)
	v.SetDefault("distill.adaptive_learning", true)
	v.SetDefault("distill.cache_patterns", true)
	v.SetDefault("distill.max_teacher_examples", 50)
	v.SetDefault("distill.student_batch_size", 20)
	v.SetDefault("distill.validation_sample_ratio", 0.1)
	v.SetDefault("distill.seed_retry_attempts", 1)
	v.SetDefault("distill.optimization_strategy", "balanced")
	v.SetDefault("distill.learning_scorer", "fixed")
	v.SetDefault("budget.quality_cost_ratio_min", 0)
	v.SetDefault("monitoring.failure_rate_threshold", 0.1)
	v.SetDefault("monitoring.quality_floor", 0.6)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("batch.max_concurrent_runs", 4)
	v.SetDefault("batch.max_requests", 10)

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

	cfg.applyProviderDefaults()

	return &cfg, nil
}

// applyProviderDefaults fills per-provider fields viper cannot default
// inside lists.
func (c *Config) applyProviderDefaults() {
	for _, list := range [][]ProviderConfig{c.Teachers, c.Students} {
		for i := range list {
			p := &list[i]
			if p.Name == "" {
				p.Name = p.Type
				if p.Model != "" {
					p.Name = p.Type + "/" + p.Model
				}
			}
			if p.MaxTokens == 0 {
				p.MaxTokens = 4096
			}
			if p.TimeoutSecs == 0 {
				p.TimeoutSecs = 30
			}
			if p.RateLimitPerMinute == 0 {
				p.RateLimitPerMinute = 60
			}
		}
	}
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
