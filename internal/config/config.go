// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (runtime override; .env is loaded first)
//  2. Config file (./config.yaml)
//  3. Default values
//
// Sensitive values (database password, auth secret) are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for validation, checked with errors.Is().
var (
	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrMissingAuthSecret indicates the auth secret is not set.
	ErrMissingAuthSecret = errors.New("missing auth secret")

	// ErrInvalidAuthSecret indicates the auth secret is too short.
	ErrInvalidAuthSecret = errors.New("invalid auth secret")

	// ErrInvalidRateLimit indicates a rate budget is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// RateBudget is one operation's admission budget.
type RateBudget struct {
	Count  int64         `mapstructure:"count" json:"count"`
	Window time.Duration `mapstructure:"window" json:"window"`
}

// Config stores application configuration.
type Config struct {
	// HTTP server
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"`
	IPBurst    int    `mapstructure:"ip_burst" json:"ip_burst"`

	// Model configuration
	ModelName        string `mapstructure:"model_name" json:"model_name"`
	RewriteModelName string `mapstructure:"rewrite_model_name" json:"rewrite_model_name"`
	EmbedderModel    string `mapstructure:"embedder_model" json:"embedder_model"`

	// Generation
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" json:"generation_timeout"`

	// Retrieval tunables
	ChunkTopK     int     `mapstructure:"chunk_top_k" json:"chunk_top_k"`
	ChunkMinScore float64 `mapstructure:"chunk_min_score" json:"chunk_min_score"`

	// PostgreSQL
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Admission budgets, keyed by operation name.
	RateLimits map[string]RateBudget `mapstructure:"rate_limits" json:"rate_limits"`

	// Security
	AuthSecret string `mapstructure:"auth_secret" json:"-"` // SENSITIVE

	// Observability: OTLP trace endpoint ("" disables tracing).
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults + env carry it.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("ip_burst", 60)

	viper.SetDefault("model_name", "googleai/gemini-2.5-flash")
	viper.SetDefault("rewrite_model_name", "googleai/gemini-2.5-flash-lite")
	viper.SetDefault("embedder_model", "gemini-embedding-001")

	viper.SetDefault("generation_timeout", 30*time.Second)
	viper.SetDefault("chunk_top_k", 8)
	viper.SetDefault("chunk_min_score", 0.05)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "docsage")
	viper.SetDefault("postgres_password", "docsage_dev_password")
	viper.SetDefault("postgres_db_name", "docsage")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("rate_limits", map[string]RateBudget{
		"chat":       {Count: 50, Window: 30 * time.Minute},
		"upload":     {Count: 10, Window: 30 * time.Minute},
		"graph-read": {Count: 100, Window: 30 * time.Minute},
	})
}

// bindEnvVariables maps environment variables onto config keys.
// DOCSAGE_POSTGRES_HOST overrides postgres_host, and so on.
func bindEnvVariables() {
	viper.SetEnvPrefix("DOCSAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// parseDatabaseURL applies DATABASE_URL when set; it takes priority
// over the individual postgres_* keys.
func (c *Config) parseDatabaseURL() error {
	raw := viper.GetString("database_url")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("parsing port: %w", err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	c.PostgresDBName = strings.TrimPrefix(u.Path, "/")
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// Validate fails fast on configuration that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model_name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: postgres_host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d not in [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.AuthSecret == "" {
		return fmt.Errorf("%w: set auth_secret or DOCSAGE_AUTH_SECRET", ErrMissingAuthSecret)
	}
	if len(c.AuthSecret) < 32 {
		return fmt.Errorf("%w: need at least 32 bytes, got %d", ErrInvalidAuthSecret, len(c.AuthSecret))
	}
	for op, budget := range c.RateLimits {
		if budget.Count <= 0 || budget.Window <= 0 {
			return fmt.Errorf("%w: operation %q needs positive count and window", ErrInvalidRateLimit, op)
		}
	}
	return nil
}

// DatabaseURL renders the PostgreSQL connection URL.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}
