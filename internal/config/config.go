package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NATSConfig holds NATS JetStream configuration for the extraction bridge
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	Subject        string        `mapstructure:"subject"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// GeocoderConfig holds the external geocoding provider configuration
type GeocoderConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// CacheTTL is the forward expiry written on geocode cache entries
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// RequestsPerSecond bounds calls to the provider
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// MatchThresholds holds the fuzzy-match decision bands
type MatchThresholds struct {
	// AutoMerge is the confidence at or above which a fuzzy match merges automatically
	AutoMerge float64 `mapstructure:"auto_merge"`
	// Flag is the confidence at or above which an ambiguous match is created
	// flagged for review instead of treated as a distinct event
	Flag float64 `mapstructure:"flag"`
}

// MatcherConfig holds match engine configuration. Thresholds are global with
// optional per-site overrides keyed by site slug.
type MatcherConfig struct {
	WindowMinutes int                        `mapstructure:"window_minutes"`
	Thresholds    MatchThresholds            `mapstructure:"thresholds"`
	SiteOverrides map[string]MatchThresholds `mapstructure:"site_overrides"`
}

// ThresholdsFor returns the thresholds for a site slug, falling back to the global defaults
func (c *MatcherConfig) ThresholdsFor(siteSlug string) MatchThresholds {
	if t, ok := c.SiteOverrides[siteSlug]; ok {
		return t
	}
	return c.Thresholds
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize  int `mapstructure:"pool_size"`
	QueueSize int `mapstructure:"queue_size"`
}

// IngestConfig holds per-run ingest settings
type IngestConfig struct {
	// RunTimeout is the wall-clock budget for one ingest run
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// SourceSeed is one configured crawlable origin within a site
type SourceSeed struct {
	Name            string  `mapstructure:"name"`
	URL             string  `mapstructure:"url"`
	ParserType      string  `mapstructure:"parser_type"`
	RequiresBrowser bool    `mapstructure:"requires_browser"`
	RateLimitRPS    float64 `mapstructure:"rate_limit_rps"`
	RespectRobots   bool    `mapstructure:"respect_robots"`
	Active          bool    `mapstructure:"active"`
}

// SiteSeed is one configured geographic scene and its sources
type SiteSeed struct {
	Slug        string       `mapstructure:"slug"`
	DisplayName string       `mapstructure:"display_name"`
	TZName      string       `mapstructure:"tz_name"`
	Sources     []SourceSeed `mapstructure:"sources"`
}

// IngestWorkerConfig holds configuration for the ingest-worker service
type IngestWorkerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Geocoder   GeocoderConfig `mapstructure:"geocoder"`
	Matcher    MatcherConfig  `mapstructure:"matcher"`
	Ingest     IngestConfig   `mapstructure:"ingest"`
	Worker     WorkerConfig   `mapstructure:"worker"`
	Sites      []SiteSeed     `mapstructure:"sites"`
}

// ExtractionBridgeConfig holds configuration for the extraction-bridge service
type ExtractionBridgeConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Geocoder   GeocoderConfig `mapstructure:"geocoder"`
	Matcher    MatcherConfig  `mapstructure:"matcher"`
	Ingest     IngestConfig   `mapstructure:"ingest"`
}

// setEngineDefaults applies defaults shared by every service embedding the engine
func setEngineDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "showgrid-event-indexer")
	v.SetDefault("geocoder.timeout", "10s")
	v.SetDefault("geocoder.cache_ttl", "2160h") // 90 days
	v.SetDefault("geocoder.requests_per_second", 1.0)
	v.SetDefault("matcher.window_minutes", 180)
	v.SetDefault("matcher.thresholds.auto_merge", 0.85)
	v.SetDefault("matcher.thresholds.flag", 0.55)
	v.SetDefault("ingest.run_timeout", "15m")
}

// LoadIngestWorkerConfig loads configuration for ingest-worker
func LoadIngestWorkerConfig(configFile string, envPath string) (*IngestWorkerConfig, error) {
	v := configureViper("ingest-worker", configFile, envPath)

	setEngineDefaults(v)
	v.SetDefault("worker.pool_size", 4)
	v.SetDefault("worker.queue_size", 64)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config IngestWorkerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Database.Host == "" {
		return nil, errors.New("database.host is required")
	}
	if config.Database.DBName == "" {
		return nil, errors.New("database.dbname is required")
	}

	return &config, nil
}

// LoadExtractionBridgeConfig loads configuration for extraction-bridge
func LoadExtractionBridgeConfig(configFile string, envPath string) (*ExtractionBridgeConfig, error) {
	v := configureViper("extraction-bridge", configFile, envPath)

	setEngineDefaults(v)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "EXTRACTION_BATCHES")
	v.SetDefault("nats.subject", "extraction.batches")
	v.SetDefault("nats.consumer_name", "extraction-bridge")
	v.SetDefault("nats.ack_wait", "5m")
	v.SetDefault("nats.max_deliver", 3)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config ExtractionBridgeConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("SHOWGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all known environment variables. Required
// for viper to map env vars to struct fields when no config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.subject",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		// Geocoder
		"geocoder.base_url",
		"geocoder.user_agent",
		"geocoder.timeout",
		"geocoder.cache_ttl",
		"geocoder.requests_per_second",
		// Matcher
		"matcher.window_minutes",
		"matcher.thresholds.auto_merge",
		"matcher.thresholds.flag",
		// Ingest
		"ingest.run_timeout",
		// Worker
		"worker.pool_size",
		"worker.queue_size",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // later files override earlier ones
	}
}
