// Package config provides configuration management for the citation resolution service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the citation resolution service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings for the citation library.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains the outcome stream publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Resolver contains cascade and batch orchestration settings.
	Resolver ResolverConfig `mapstructure:"resolver"`
	// Cache contains two-tier cache behavior settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Providers contains external provider configurations.
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the keep-alive idle timeout.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum idle time before a connection is closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between idle connection health checks.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// KafkaConfig holds Kafka publisher settings for the outcome stream.
type KafkaConfig struct {
	// Enabled controls whether outcome events are published to Kafka.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic for resolution attempt/result events.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// BufferSize is the in-memory event buffer; events are dropped when full
	// so publishing can never block resolution.
	BufferSize int `mapstructure:"buffer_size"`
}

// ResolverConfig holds cascade and orchestrator settings.
type ResolverConfig struct {
	// Workers is the maximum number of citations resolved concurrently per batch.
	Workers int `mapstructure:"workers"`
	// CitationTimeout bounds the worst-case latency of a single citation.
	CitationTimeout time.Duration `mapstructure:"citation_timeout"`
	// DocumentTimeout bounds a whole batch; zero means no document deadline.
	DocumentTimeout time.Duration `mapstructure:"document_timeout"`
}

// CacheConfig holds two-tier cache behavior settings.
type CacheConfig struct {
	// AcceptThreshold is the similarity ratio at or above which a user's
	// saved text counts as accepting the recommendation unchanged.
	AcceptThreshold float64 `mapstructure:"accept_threshold"`
	// MinorEditThreshold is the similarity ratio at or above which a user's
	// saved text counts as a minor edit rather than a replacement.
	MinorEditThreshold float64 `mapstructure:"minor_edit_threshold"`
}

// ProvidersConfig holds configuration for all external providers.
type ProvidersConfig struct {
	// CrossRef contains CrossRef REST API settings (free).
	CrossRef ProviderConfig `mapstructure:"crossref"`
	// OpenAlex contains OpenAlex API settings (free).
	OpenAlex ProviderConfig `mapstructure:"openalex"`
	// SerpAPI contains SerpAPI settings (paid per call).
	SerpAPI ProviderConfig `mapstructure:"serpapi"`
	// OpenAI contains OpenAI extraction settings (paid per token).
	OpenAI AIProviderConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic extraction settings (paid per token).
	Anthropic AIProviderConfig `mapstructure:"anthropic"`
	// ContactEmail is sent to polite-pool APIs (CrossRef, OpenAlex).
	ContactEmail string `mapstructure:"contact_email"`
}

// ProviderConfig holds configuration for one HTTP provider.
type ProviderConfig struct {
	// Enabled controls whether this provider participates in the cascade.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded exclusively from the environment
	// (e.g. CITEGENIE_PROVIDERS_SERPAPI_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second to this provider.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the maximum retry attempts for one provider call.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// CostPerCall is the fixed cost in USD charged per call.
	CostPerCall float64 `mapstructure:"cost_per_call"`
}

// AIProviderConfig holds configuration for an LLM extraction provider.
type AIProviderConfig struct {
	// Enabled controls whether this provider participates in the cascade.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded exclusively from the environment.
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second to this provider.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the maximum retry attempts for one provider call.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// InputCostPerMTok is the USD price per million input tokens.
	InputCostPerMTok float64 `mapstructure:"input_cost_per_mtok"`
	// OutputCostPerMTok is the USD price per million output tokens.
	OutputCostPerMTok float64 `mapstructure:"output_cost_per_mtok"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CITEGENIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/citation-resolution-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets use mapstructure:"-" and load exclusively from the environment.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Providers.CrossRef.APIKey = os.Getenv("CITEGENIE_PROVIDERS_CROSSREF_API_KEY")
	cfg.Providers.OpenAlex.APIKey = os.Getenv("CITEGENIE_PROVIDERS_OPENALEX_API_KEY")
	cfg.Providers.SerpAPI.APIKey = os.Getenv("CITEGENIE_PROVIDERS_SERPAPI_API_KEY")
	cfg.Providers.OpenAI.APIKey = os.Getenv("CITEGENIE_PROVIDERS_OPENAI_API_KEY")
	cfg.Providers.Anthropic.APIKey = os.Getenv("CITEGENIE_PROVIDERS_ANTHROPIC_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "citegenie")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "citation_library")
	// Default to "require" for production security. Use CITEGENIE_DATABASE_SSL_MODE=disable locally.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.resolution.outcomes")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.buffer_size", 1024)

	// Resolver defaults
	v.SetDefault("resolver.workers", 8)
	v.SetDefault("resolver.citation_timeout", "45s")
	v.SetDefault("resolver.document_timeout", "10m")

	// Cache defaults, mirroring the historical 95%/80% cutoffs.
	v.SetDefault("cache.accept_threshold", 0.95)
	v.SetDefault("cache.minor_edit_threshold", 0.80)

	// Provider defaults - CrossRef (free, priority 1)
	v.SetDefault("providers.crossref.enabled", true)
	v.SetDefault("providers.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("providers.crossref.timeout", "30s")
	v.SetDefault("providers.crossref.rate_limit", 10.0)
	v.SetDefault("providers.crossref.max_retries", 2)
	v.SetDefault("providers.crossref.retry_delay", "2s")
	v.SetDefault("providers.crossref.cost_per_call", 0.0)

	// Provider defaults - OpenAlex (free, priority 2)
	v.SetDefault("providers.openalex.enabled", true)
	v.SetDefault("providers.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("providers.openalex.timeout", "30s")
	v.SetDefault("providers.openalex.rate_limit", 10.0)
	v.SetDefault("providers.openalex.max_retries", 2)
	v.SetDefault("providers.openalex.retry_delay", "2s")
	v.SetDefault("providers.openalex.cost_per_call", 0.0)

	// Provider defaults - SerpAPI (paid, disabled until a key is configured)
	v.SetDefault("providers.serpapi.enabled", false)
	v.SetDefault("providers.serpapi.base_url", "https://serpapi.com")
	v.SetDefault("providers.serpapi.timeout", "30s")
	v.SetDefault("providers.serpapi.rate_limit", 5.0)
	v.SetDefault("providers.serpapi.max_retries", 2)
	v.SetDefault("providers.serpapi.retry_delay", "2s")
	v.SetDefault("providers.serpapi.cost_per_call", 0.01)

	// Provider defaults - OpenAI extraction (GPT-4o pricing per 1M tokens)
	v.SetDefault("providers.openai.enabled", false)
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.model", "gpt-4o")
	v.SetDefault("providers.openai.timeout", "60s")
	v.SetDefault("providers.openai.rate_limit", 5.0)
	v.SetDefault("providers.openai.max_retries", 3)
	v.SetDefault("providers.openai.retry_delay", "2s")
	v.SetDefault("providers.openai.input_cost_per_mtok", 2.50)
	v.SetDefault("providers.openai.output_cost_per_mtok", 10.00)

	// Provider defaults - Anthropic extraction (Claude Sonnet pricing per 1M tokens)
	v.SetDefault("providers.anthropic.enabled", false)
	v.SetDefault("providers.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("providers.anthropic.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("providers.anthropic.timeout", "60s")
	v.SetDefault("providers.anthropic.rate_limit", 5.0)
	v.SetDefault("providers.anthropic.max_retries", 3)
	v.SetDefault("providers.anthropic.retry_delay", "2s")
	v.SetDefault("providers.anthropic.input_cost_per_mtok", 3.00)
	v.SetDefault("providers.anthropic.output_cost_per_mtok", 15.00)

	v.SetDefault("providers.contact_email", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Resolver.Workers <= 0 {
		return fmt.Errorf("resolver workers must be positive")
	}
	if c.Resolver.CitationTimeout <= 0 {
		return fmt.Errorf("resolver citation_timeout must be positive")
	}

	if c.Cache.AcceptThreshold < 0 || c.Cache.AcceptThreshold > 1 {
		return fmt.Errorf("cache accept_threshold must be between 0 and 1")
	}
	if c.Cache.MinorEditThreshold < 0 || c.Cache.MinorEditThreshold > 1 {
		return fmt.Errorf("cache minor_edit_threshold must be between 0 and 1")
	}
	if c.Cache.MinorEditThreshold > c.Cache.AcceptThreshold {
		return fmt.Errorf("cache minor_edit_threshold (%v) must be <= accept_threshold (%v)",
			c.Cache.MinorEditThreshold, c.Cache.AcceptThreshold)
	}

	// Paid providers must not run without credentials.
	if c.Providers.SerpAPI.Enabled && c.Providers.SerpAPI.APIKey == "" {
		return fmt.Errorf("serpapi provider requires CITEGENIE_PROVIDERS_SERPAPI_API_KEY to be set")
	}
	if c.Providers.OpenAI.Enabled && c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("openai provider requires CITEGENIE_PROVIDERS_OPENAI_API_KEY to be set")
	}
	if c.Providers.Anthropic.Enabled && c.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic provider requires CITEGENIE_PROVIDERS_ANTHROPIC_API_KEY to be set")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	return nil
}
