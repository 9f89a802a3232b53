// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvProduction is the environment name that disables the whole diagnostic
// subsystem at both the HTTP and realtime layers.
const EnvProduction = "production"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Environment EnvironmentConfig `mapstructure:"environment"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Probe       ProbeConfig       `mapstructure:"probe"`
	Scrape      ScrapeConfig      `mapstructure:"scrape"`
	Queue       QueueConfig       `mapstructure:"queue"`
	DB          DBConfig          `mapstructure:"db"`
	Dedup       DedupConfig       `mapstructure:"dedup"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// EnvironmentConfig identifies the deployment.
type EnvironmentConfig struct {
	// Name is development, staging, or production.
	Name string `mapstructure:"name"`
	// CloudHosted marks datacenter egress; it affects anti-detection
	// diagnostics reporting only.
	CloudHosted bool `mapstructure:"cloud_hosted"`
}

// AuthConfig gates the test endpoints and the realtime channel.
type AuthConfig struct {
	// TestSecret is the shared secret required by every test endpoint.
	TestSecret string `mapstructure:"test_secret"`
	// JWKSURL serves the identity provider's public key set.
	JWKSURL string `mapstructure:"jwks_url"`
	// Audience and Issuer are required claims on identity tokens.
	Audience string `mapstructure:"audience"`
	Issuer   string `mapstructure:"issuer"`
	// JWKSCacheTTLSeconds bounds how long fetched keys are reused.
	JWKSCacheTTLSeconds int `mapstructure:"jwks_cache_ttl_seconds"`
}

// ProbeConfig tunes the diagnostic probe runner.
type ProbeConfig struct {
	QuickSampleLimit    int    `mapstructure:"quick_sample_limit"`
	IPCheckURL          string `mapstructure:"ip_check_url"`
	IPCheckTimeoutSecs  int    `mapstructure:"ip_check_timeout_seconds"`
	HeadlessTimeoutSecs int    `mapstructure:"headless_timeout_seconds"`
}

// ScrapeConfig controls the scraping engine.
type ScrapeConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxLinks       int    `mapstructure:"max_links"`
}

// QueueConfig controls the background ingestion queue.
type QueueConfig struct {
	ItemTimeoutSeconds int `mapstructure:"item_timeout_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores for local runs.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds"`
}

// DedupConfig locates the bbolt seen-URL cache. An empty path disables it.
type DedupConfig struct {
	Path string `mapstructure:"path"`
}

// PubSubConfig holds metadata for ingestion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AnalysisConfig configures the AI analyzer. An empty APIKey selects the
// keyword fallback.
type AnalysisConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("environment.name", "development")
	v.SetDefault("environment.cloud_hosted", false)
	// Empty defaults register the env-driven keys so AutomaticEnv can fill
	// them during Unmarshal.
	v.SetDefault("auth.test_secret", "")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.jwks_cache_ttl_seconds", 300)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("dedup.path", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("analysis.api_key", "")
	v.SetDefault("analysis.base_url", "")
	v.SetDefault("analysis.model", "")
	v.SetDefault("probe.quick_sample_limit", 3)
	v.SetDefault("probe.ip_check_url", "https://api.ipify.org")
	v.SetDefault("probe.ip_check_timeout_seconds", 5)
	v.SetDefault("probe.headless_timeout_seconds", 10)
	v.SetDefault("scrape.user_agent", "scout-probe/0.1")
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("scrape.max_links", 100)
	v.SetDefault("queue.item_timeout_seconds", 120)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Environment.Name == "" {
		return fmt.Errorf("environment.name must be set")
	}
	if !c.IsProduction() && c.Auth.TestSecret == "" {
		return fmt.Errorf("auth.test_secret must be set outside production")
	}
	if c.Probe.IPCheckTimeoutSecs <= 0 {
		return fmt.Errorf("probe.ip_check_timeout_seconds must be > 0")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	return nil
}

// IsProduction reports whether the deployment environment disables the
// diagnostic subsystem.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment.Name, EnvProduction)
}

// IPCheckTimeout returns the outbound-IP check budget as a duration.
func (c Config) IPCheckTimeout() time.Duration {
	return time.Duration(c.Probe.IPCheckTimeoutSecs) * time.Second
}

// ScrapeTimeout returns the per-fetch scraping budget as a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// QueueItemTimeout returns the per-item ingestion budget as a duration.
func (c Config) QueueItemTimeout() time.Duration {
	return time.Duration(c.Queue.ItemTimeoutSeconds) * time.Second
}

// JWKSCacheTTL returns the key-set reuse window as a duration.
func (c Config) JWKSCacheTTL() time.Duration {
	return time.Duration(c.Auth.JWKSCacheTTLSeconds) * time.Second
}
