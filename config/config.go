package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ideaforge system. Per-problem
// settings (statement, criteria, search overrides) live in the problem YAML,
// not here; this file is the application-level surface shared by every run.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Search    SearchConfig    `mapstructure:"search"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Index     IndexConfig     `mapstructure:"index"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug       bool   `mapstructure:"debug"`
	LogLevel    string `mapstructure:"log_level"`
	SnapshotDir string `mapstructure:"snapshot_dir"`
}

// ServerConfig contains HTTP server and auth settings for serve mode
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// OracleConfig selects and tunes the text-generation provider
type OracleConfig struct {
	Provider string `mapstructure:"provider"` // openai | groq | openrouter
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`

	GenerationModel string `mapstructure:"generation_model"`
	EvaluationModel string `mapstructure:"evaluation_model"`

	Timeout           time.Duration `mapstructure:"timeout"`
	GenerationRetries int           `mapstructure:"generation_retries"`
	EvaluationRetries int           `mapstructure:"evaluation_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`

	GenerationMaxTokens   int     `mapstructure:"generation_max_tokens"`
	EvaluationMaxTokens   int     `mapstructure:"evaluation_max_tokens"`
	GenerationTemperature float64 `mapstructure:"generation_temperature"`
	EvaluationTemperature float64 `mapstructure:"evaluation_temperature"`
}

// SearchConfig carries the default search knobs; the problem YAML can
// override each of them per run
type SearchConfig struct {
	Iterations       int     `mapstructure:"iterations"`
	ExplorationC     float64 `mapstructure:"exploration_c"`
	MaxChildren      int     `mapstructure:"max_children"`
	MaxDepth         int     `mapstructure:"max_depth"`
	QualityThreshold float64 `mapstructure:"quality_threshold"`
	SnapshotEvery    int     `mapstructure:"snapshot_every"`
	Workers          int     `mapstructure:"workers"`
	DirectivePolicy  string  `mapstructure:"directive_policy"`
	TopK             int     `mapstructure:"top_k"`
	Ranking          string  `mapstructure:"ranking"` // aggregate | mean_value
}

// BudgetConfig caps a run's resource usage; zero means unlimited
type BudgetConfig struct {
	MaxCost        float64 `mapstructure:"max_cost"`
	MaxTokens      int64   `mapstructure:"max_tokens"`
	MaxTimeSeconds int64   `mapstructure:"max_time_seconds"`
}

// TelemetryConfig controls observability output
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// StorageConfig contains the archive database and scheduler lock settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IndexConfig locates the full-text index over archived ideas
type IndexConfig struct {
	Path string `mapstructure:"path"`
}

// DSN assembles the Postgres connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// LoadConfig reads the application config. With an empty path it searches the
// usual locations and, when no file exists at all, continues on defaults and
// environment overrides alone (IDEAFORGE_* variables), because a plain CLI
// run has no required file-backed settings.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("IDEAFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	overrideFromEnv(&config)
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.snapshot_dir", ".")
	v.SetDefault("server.address", ":10002")
	v.SetDefault("oracle.provider", "openai")
	v.SetDefault("oracle.timeout", "60s")
	v.SetDefault("oracle.generation_retries", 2)
	v.SetDefault("oracle.evaluation_retries", 3)
	v.SetDefault("oracle.retry_delay", "2s")
	v.SetDefault("search.iterations", 100)
	v.SetDefault("search.exploration_c", 1.414)
	v.SetDefault("search.max_children", 5)
	v.SetDefault("search.max_depth", 5)
	v.SetDefault("search.quality_threshold", 0.87)
	v.SetDefault("search.snapshot_every", 1)
	v.SetDefault("search.workers", 1)
	v.SetDefault("search.directive_policy", "random")
	v.SetDefault("search.top_k", 5)
	v.SetDefault("search.ranking", "aggregate")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("index.path", "ideaforge.bleve")
}

// overrideFromEnv fills credentials from the provider's conventional
// environment variables when the config file leaves them blank.
func overrideFromEnv(c *Config) {
	if c.Oracle.APIKey == "" {
		switch c.Oracle.Provider {
		case "groq":
			c.Oracle.APIKey = os.Getenv("GROQ_API_KEY")
		case "openrouter":
			c.Oracle.APIKey = os.Getenv("OPENROUTER_API_KEY")
		default:
			c.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Server.JWTSecret == "" {
		c.Server.JWTSecret = os.Getenv("IDEAFORGE_JWT_SECRET")
	}
	if c.Storage.Postgres.URL == "" {
		c.Storage.Postgres.URL = os.Getenv("DATABASE_URL")
	}
}

func validateConfig(c *Config) error {
	switch c.Oracle.Provider {
	case "openai", "groq", "openrouter":
	default:
		return fmt.Errorf("unknown oracle provider %q (want openai, groq or openrouter)", c.Oracle.Provider)
	}
	switch c.Search.Ranking {
	case "aggregate", "mean_value", "mean":
	default:
		return fmt.Errorf("unknown ranking metric %q (want aggregate or mean_value)", c.Search.Ranking)
	}
	if c.Search.QualityThreshold < 0 || c.Search.QualityThreshold > 1 {
		return fmt.Errorf("search.quality_threshold %.3f outside [0,1]", c.Search.QualityThreshold)
	}
	if c.Budget.MaxCost < 0 || c.Budget.MaxTokens < 0 || c.Budget.MaxTimeSeconds < 0 {
		return fmt.Errorf("budget limits cannot be negative")
	}
	return nil
}
