package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	OpenAI         OpenAIConfig         `mapstructure:"openai"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Categorization CategorizationConfig `mapstructure:"categorization"`
	Rules          RulesConfig          `mapstructure:"rules"`
	Lark           LarkConfig           `mapstructure:"lark"`
	Logger         LoggerConfig         `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	VisionModel string        `mapstructure:"vision_model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PromptsPath string        `mapstructure:"prompts_path"`
}

// ReconciliationConfig holds matching and session thresholds
type ReconciliationConfig struct {
	FuzzyThreshold      float64 `mapstructure:"fuzzy_threshold"`      // minimum accepted fuzzy confidence
	ExactConfidence     float64 `mapstructure:"exact_confidence"`     // confidence assigned to exact matches
	AICap               float64 `mapstructure:"ai_cap"`               // ceiling for unreviewed AI match confidence
	ApprovalTolerance   string  `mapstructure:"approval_tolerance"`   // max |difference| for approval, decimal string
	DisputeRatio        float64 `mapstructure:"dispute_ratio"`        // unresolved ratio that auto-disputes
	ScoringConcurrency  int     `mapstructure:"scoring_concurrency"`  // candidate scoring pool size
	OracleConcurrency   int     `mapstructure:"oracle_concurrency"`   // concurrent oracle calls
	DateToleranceDays   int     `mapstructure:"date_tolerance_days"`  // exact-match date window
	DuplicateGapHours   int     `mapstructure:"duplicate_gap_hours"`  // near-duplicate date window
	DuplicateSimilarity float64 `mapstructure:"duplicate_similarity"` // near-duplicate description threshold
}

// CategorizationConfig holds categorization engine settings
type CategorizationConfig struct {
	ShortCircuitConfidence float64 `mapstructure:"short_circuit_confidence"` // skip oracle above this prior
	Concurrency            int     `mapstructure:"concurrency"`
}

// RulesConfig locates the reconciliation rule file
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// LarkConfig holds operational alerting configuration. Alerting is disabled
// when AppID is empty.
type LarkConfig struct {
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	AlertChatID   string `mapstructure:"alert_chat_id"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/reconciliation.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// OpenAI defaults
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.vision_model", "gpt-4o")
	viper.SetDefault("openai.temperature", 0.2)
	viper.SetDefault("openai.max_tokens", 1000)
	viper.SetDefault("openai.timeout", 30*time.Second)
	viper.SetDefault("openai.prompts_path", "configs/prompts.yaml")

	// Reconciliation defaults
	viper.SetDefault("reconciliation.fuzzy_threshold", 0.70)
	viper.SetDefault("reconciliation.exact_confidence", 0.95)
	viper.SetDefault("reconciliation.ai_cap", 0.80)
	viper.SetDefault("reconciliation.approval_tolerance", "0.01")
	viper.SetDefault("reconciliation.dispute_ratio", 0.5)
	viper.SetDefault("reconciliation.scoring_concurrency", 8)
	viper.SetDefault("reconciliation.oracle_concurrency", 4)
	viper.SetDefault("reconciliation.date_tolerance_days", 1)
	viper.SetDefault("reconciliation.duplicate_gap_hours", 24)
	viper.SetDefault("reconciliation.duplicate_similarity", 0.85)

	// Categorization defaults
	viper.SetDefault("categorization.short_circuit_confidence", 0.9)
	viper.SetDefault("categorization.concurrency", 4)

	// Rules defaults
	viper.SetDefault("rules.path", "configs/rules.yaml")

	// Lark defaults
	viper.SetDefault("lark.receive_id_type", "chat_id")

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("lark.app_id", "LARK_APP_ID")
	viper.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	viper.BindEnv("lark.alert_chat_id", "LARK_ALERT_CHAT_ID")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}

	if c.Reconciliation.FuzzyThreshold <= 0 || c.Reconciliation.FuzzyThreshold > 1 {
		return fmt.Errorf("reconciliation.fuzzy_threshold must be in (0, 1], got %.2f", c.Reconciliation.FuzzyThreshold)
	}
	if c.Reconciliation.ExactConfidence <= 0 || c.Reconciliation.ExactConfidence > 1 {
		return fmt.Errorf("reconciliation.exact_confidence must be in (0, 1], got %.2f", c.Reconciliation.ExactConfidence)
	}
	if c.Reconciliation.AICap <= 0 || c.Reconciliation.AICap > 1 {
		return fmt.Errorf("reconciliation.ai_cap must be in (0, 1], got %.2f", c.Reconciliation.AICap)
	}
	if c.Reconciliation.DisputeRatio < 0 || c.Reconciliation.DisputeRatio > 1 {
		return fmt.Errorf("reconciliation.dispute_ratio must be in [0, 1], got %.2f", c.Reconciliation.DisputeRatio)
	}

	if c.Categorization.ShortCircuitConfidence <= 0 || c.Categorization.ShortCircuitConfidence > 1 {
		return fmt.Errorf("categorization.short_circuit_confidence must be in (0, 1], got %.2f", c.Categorization.ShortCircuitConfidence)
	}

	// Alerting is optional, but a partial Lark config is a misconfiguration
	if c.Lark.AppID != "" && c.Lark.AppSecret == "" {
		return fmt.Errorf("lark.app_secret is required when lark.app_id is set")
	}

	return nil
}
