package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	History     HistoryConfig     `mapstructure:"history"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// StorageConfig locates the persisted snapshot, lists and history files
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
	Subject    string `mapstructure:"subject"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// RateLimitConfig bounds list mutations per caller
type RateLimitConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	ListMutationsPerMinute int  `mapstructure:"list_mutations_per_minute"`
	BulkImportsPerMinute   int  `mapstructure:"bulk_imports_per_minute"`
	MaxTrackedCallers      int  `mapstructure:"max_tracked_callers"`
}

// AggregationConfig controls the refresh cycle
type AggregationConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	SourceTimeout  time.Duration `mapstructure:"source_timeout"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"`
	FetchLimit     int           `mapstructure:"fetch_limit"`
	RankedCap      int           `mapstructure:"ranked_cap"`
	TopThreatsCap  int           `mapstructure:"top_threats_cap"`
	CorrelationCap int           `mapstructure:"correlation_cap"`
}

type SourcesConfig struct {
	AlienVaultOTX SourceConfig `mapstructure:"alienvault_otx"`
	AbuseIPDB     SourceConfig `mapstructure:"abuseipdb"`
	VirusTotal    SourceConfig `mapstructure:"virustotal"`
	ThreatFox     SourceConfig `mapstructure:"threatfox"`
}

// BySlug maps connector slugs to their configuration
func (c SourcesConfig) BySlug() map[string]SourceConfig {
	return map[string]SourceConfig{
		"alienvault_otx": c.AlienVaultOTX,
		"abuseipdb":      c.AbuseIPDB,
		"virustotal":     c.VirusTotal,
		"threatfox":      c.ThreatFox,
	}
}

type SourceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIURL  string `mapstructure:"api_url"`
	APIKey  string `mapstructure:"api_key"`
	Limit   int    `mapstructure:"limit"`
}

type ScoringConfig struct {
	SourceReliability map[string]float64 `mapstructure:"source_reliability"`
	UnknownSource     float64            `mapstructure:"unknown_source"`
}

type HistoryConfig struct {
	MaxEntriesPerDay int `mapstructure:"max_entries_per_day"`
	MaxDays          int `mapstructure:"max_days"`
}

// Load reads configuration from file and environment variables.
// A missing config file falls back to defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/threatpulse")
	}

	v.SetEnvPrefix("THREATPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials are nested; bind them explicitly so env-only deployments work
	for _, slug := range []string{"alienvault_otx", "abuseipdb", "virustotal", "threatfox"} {
		_ = v.BindEnv("sources."+slug+".api_key", "THREATPULSE_SOURCES_"+strings.ToUpper(slug)+"_API_KEY")
	}
	_ = v.BindEnv("redis.password", "THREATPULSE_REDIS_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "threatpulse")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.time_format", time.RFC3339)

	v.SetDefault("storage.data_dir", "./data")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "threatpulse:")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "THREATPULSE")
	v.SetDefault("nats.subject", "threats.snapshot")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Content-Type", "X-Request-ID"})
	v.SetDefault("cors.max_age", 300)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.list_mutations_per_minute", 10)
	v.SetDefault("ratelimit.bulk_imports_per_minute", 5)
	v.SetDefault("ratelimit.max_tracked_callers", 10000)

	v.SetDefault("aggregation.poll_interval", 15*time.Minute)
	v.SetDefault("aggregation.refresh_timeout", 90*time.Second)
	v.SetDefault("aggregation.source_timeout", 60*time.Second)
	v.SetDefault("aggregation.worker_pool_size", 4)
	v.SetDefault("aggregation.fetch_limit", 100)
	v.SetDefault("aggregation.ranked_cap", 100)
	v.SetDefault("aggregation.top_threats_cap", 50)
	v.SetDefault("aggregation.correlation_cap", 25)

	for _, slug := range []string{"alienvault_otx", "abuseipdb", "virustotal", "threatfox"} {
		v.SetDefault("sources."+slug+".enabled", true)
	}

	v.SetDefault("scoring.source_reliability", map[string]float64{
		"alienvault_otx": 1.3,
		"abuseipdb":      1.2,
		"threatfox":      1.1,
		"virustotal":     1.0,
	})
	v.SetDefault("scoring.unknown_source", 0.8)

	v.SetDefault("history.max_entries_per_day", 24)
	v.SetDefault("history.max_days", 30)
}
