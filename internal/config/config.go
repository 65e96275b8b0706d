package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Analysis    AnalysisConfig  `mapstructure:"analysis"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RequestTimeout bounds a single analysis request, e.g. "10s".
	RequestTimeout string `mapstructure:"request_timeout"`
}

// Timeout parses RequestTimeout. An empty value disables the deadline.
func (s ServerConfig) Timeout() (time.Duration, error) {
	if strings.TrimSpace(s.RequestTimeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid server request_timeout %q: %w", s.RequestTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("server request_timeout must not be negative, got %s", d)
	}
	return d, nil
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

// RedisConfig configures the optional price table cache in front of the
// database.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL string `mapstructure:"cache_ttl"`
}

// TTL parses CacheTTL.
func (r RedisConfig) TTL() (time.Duration, error) {
	d, err := time.ParseDuration(r.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid redis cache_ttl %q: %w", r.CacheTTL, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("redis cache_ttl must be positive, got %s", d)
	}
	return d, nil
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Exporter       string `mapstructure:"exporter"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// AnalysisConfig holds the defaults applied when a request omits a parameter.
type AnalysisConfig struct {
	Benchmark      string   `mapstructure:"benchmark"`
	Assets         []string `mapstructure:"assets"`
	Window         int      `mapstructure:"window"`
	LookbackDays   int      `mapstructure:"lookback_days"`
	UpperThreshold float64  `mapstructure:"upper_threshold"`
	LowerThreshold float64  `mapstructure:"lower_threshold"`
	// PriceFile serves prices from a CSV file instead of the database.
	PriceFile string `mapstructure:"price_file"`
}

// Thresholds returns the configured regime thresholds after validating them.
func (a AnalysisConfig) Thresholds() (analysis.Thresholds, error) {
	return analysis.NewThresholds(a.UpperThreshold, a.LowerThreshold)
}

// AssetIDs returns the configured assets as analysis identifiers.
func (a AnalysisConfig) AssetIDs() []analysis.AssetID {
	ids := make([]analysis.AssetID, 0, len(a.Assets))
	for _, asset := range a.Assets {
		asset = strings.TrimSpace(asset)
		if asset != "" {
			ids = append(ids, analysis.AssetID(asset))
		}
	}
	return ids
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("database.database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL environment variable: %w", err)
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Normalize environment to lowercase for consistent comparison
	config.Environment = strings.ToLower(config.Environment)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks ranges that viper cannot express. Threshold ordering is
// checked by the analysis package so the error kind stays the same
// everywhere.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if _, err := c.Server.Timeout(); err != nil {
		return err
	}
	if c.Analysis.Window < analysis.MinWindow {
		return fmt.Errorf("analysis window must be at least %d, got %d", analysis.MinWindow, c.Analysis.Window)
	}
	if c.Analysis.LookbackDays <= 0 {
		return fmt.Errorf("analysis lookback_days must be positive, got %d", c.Analysis.LookbackDays)
	}
	if strings.TrimSpace(c.Analysis.Benchmark) == "" {
		return errors.New("analysis benchmark is required")
	}
	if _, err := c.Analysis.Thresholds(); err != nil {
		return fmt.Errorf("analysis thresholds: %w", err)
	}
	if c.Redis.Enabled {
		if _, err := c.Redis.TTL(); err != nil {
			return err
		}
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry exporter must be stdout or otlp, got %q", c.Telemetry.Exporter)
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.request_timeout", "10s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "decoupling")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 2)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.cache_ttl", "5m")

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", "stdout")
	viper.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	viper.SetDefault("telemetry.service_name", "decoupling-detector")
	viper.SetDefault("telemetry.service_version", "1.0.0")

	// Analysis
	viper.SetDefault("analysis.benchmark", "BTC-USD")
	viper.SetDefault("analysis.assets", []string{"BTC-USD", "ETH-USD", "SOL-USD", "BNB-USD"})
	viper.SetDefault("analysis.window", 30)
	viper.SetDefault("analysis.lookback_days", 90)
	viper.SetDefault("analysis.upper_threshold", analysis.DefaultUpperThreshold)
	viper.SetDefault("analysis.lower_threshold", analysis.DefaultLowerThreshold)
	viper.SetDefault("analysis.price_file", "")
}
