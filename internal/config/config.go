package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opentalon/geminicog/internal/audit"
	"github.com/opentalon/geminicog/internal/provider"
)

type Config struct {
	Cog      CogConfig      `yaml:"cog"`
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Log      LogConfig      `yaml:"log"`
	Audit    AuditConfig    `yaml:"audit"`
}

// CogConfig is the identity reported in the manifest. An empty version
// means the build version.
type CogConfig struct {
	Name        string `yaml:"name"`
	Label       string `yaml:"label"`
	Version     string `yaml:"version"`
	Homepage    string `yaml:"homepage"`
	AuthHelpURL string `yaml:"auth_help_url"`
}

type ServerConfig struct {
	Listen        string        `yaml:"listen"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// ProviderConfig selects the LLM backend. The API key is not configured
// here: it arrives with every call as a credential.
type ProviderConfig struct {
	API          string `yaml:"api"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuditConfig struct {
	Sink         string        `yaml:"sink"`
	DataDir      string        `yaml:"data_dir"`
	DSN          string        `yaml:"dsn"`
	Redis        RedisConfig   `yaml:"redis"`
	AzBlob       AzBlobConfig  `yaml:"azblob"`
	QueueSize    int           `yaml:"queue_size"`
	Workers      int           `yaml:"workers"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	RetentionDays     int    `yaml:"retention_days"`
	RetentionSchedule string `yaml:"retention_schedule"`
}

type RedisConfig struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

type AzBlobConfig struct {
	ConnectionString string `yaml:"connection_string"`
	Container        string `yaml:"container"`
}

const (
	DefaultName              = "automatoninc/gemini"
	DefaultLabel             = "Gemini"
	DefaultListen            = "0.0.0.0:28866"
	DefaultShutdownGrace     = 10 * time.Second
	DefaultRetentionSchedule = "@daily"
)

// SinkConfig converts the audit section for audit.Open.
func (a AuditConfig) SinkConfig() audit.SinkConfig {
	return audit.SinkConfig{
		Kind:                 a.Sink,
		DataDir:              a.DataDir,
		DSN:                  a.DSN,
		RedisURL:             a.Redis.URL,
		RedisStream:          a.Redis.Stream,
		RedisMaxLen:          a.Redis.MaxLen,
		BlobConnectionString: a.AzBlob.ConnectionString,
		BlobContainer:        a.AzBlob.Container,
	}
}

// Retention is the maximum record age, or 0 when retention is off.
func (a AuditConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// Backend converts the provider section for provider.New.
func (p ProviderConfig) Backend() provider.Config {
	return provider.Config{API: p.API, BaseURL: p.BaseURL, DefaultModel: p.DefaultModel}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandEnvInSecrets expands ${VAR} in the fields that usually carry
// addresses or secrets.
func expandEnvInSecrets(cfg *Config) {
	cfg.Server.Listen = expandEnv(cfg.Server.Listen)
	cfg.Server.MetricsAddr = expandEnv(cfg.Server.MetricsAddr)
	cfg.Provider.BaseURL = expandEnv(cfg.Provider.BaseURL)
	cfg.Audit.DataDir = expandEnv(cfg.Audit.DataDir)
	cfg.Audit.DSN = expandEnv(cfg.Audit.DSN)
	cfg.Audit.Redis.URL = expandEnv(cfg.Audit.Redis.URL)
	cfg.Audit.AzBlob.ConnectionString = expandEnv(cfg.Audit.AzBlob.ConnectionString)
}

func applyDefaults(cfg *Config) {
	if cfg.Cog.Name == "" {
		cfg.Cog.Name = DefaultName
	}
	if cfg.Cog.Label == "" {
		cfg.Cog.Label = DefaultLabel
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.Provider.API == "" {
		cfg.Provider.API = provider.APIGoogleAI
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Audit.Sink == "" {
		cfg.Audit.Sink = audit.SinkNone
	}
	if cfg.Audit.Sink == audit.SinkSQLite && cfg.Audit.DataDir == "" {
		cfg.Audit.DataDir = "data"
	}
	if cfg.Audit.RetentionDays > 0 && cfg.Audit.RetentionSchedule == "" {
		cfg.Audit.RetentionSchedule = DefaultRetentionSchedule
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Provider.API {
	case provider.APIGoogleAI, provider.APIOpenAI:
	default:
		return fmt.Errorf("provider.api: unknown api %q (want %s or %s)", c.Provider.API, provider.APIGoogleAI, provider.APIOpenAI)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	switch c.Audit.Sink {
	case audit.SinkNone, audit.SinkSQLite:
	case audit.SinkPostgres:
		if c.Audit.DSN == "" {
			return fmt.Errorf("audit.dsn is required for the postgres sink")
		}
	case audit.SinkRedis:
		if c.Audit.Redis.URL == "" {
			return fmt.Errorf("audit.redis.url is required for the redis sink")
		}
	case audit.SinkBlob:
		if c.Audit.AzBlob.ConnectionString == "" {
			return fmt.Errorf("audit.azblob.connection_string is required for the azblob sink")
		}
	default:
		return fmt.Errorf("audit.sink: unknown sink %q", c.Audit.Sink)
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must not be negative")
	}
	if c.Audit.Workers < 0 || c.Audit.QueueSize < 0 {
		return fmt.Errorf("audit.workers and audit.queue_size must not be negative")
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInSecrets(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
