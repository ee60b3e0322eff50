package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/hookd/internal/logger"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Webhook   WebhookConfig   `toml:"webhook" mapstructure:"webhook"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	Importer  ImporterConfig  `toml:"importer" mapstructure:"importer"`
	RateLimit RateLimitConfig `toml:"ratelimit" mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Listen        string        `toml:"listen" mapstructure:"listen"`
	BasePath      string        `toml:"base_path" mapstructure:"base_path"`
	InboundPrefix string        `toml:"inbound_prefix" mapstructure:"inbound_prefix"`
	ReadTimeout   time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
	MaxBodyBytes  int64         `toml:"max_body_bytes" mapstructure:"max_body_bytes"`
	TLSMinVersion string        `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string        `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig    `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// WebhookConfig bounds per-path queues and per-listener activity logs.
type WebhookConfig struct {
	QueueCapacity int `toml:"queue_capacity" mapstructure:"queue_capacity"`
	LogCapacity   int `toml:"log_capacity" mapstructure:"log_capacity"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type HistoryConfig struct {
	Sinks  []string `toml:"sinks" mapstructure:"sinks"`
	Buffer int      `toml:"buffer" mapstructure:"buffer"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ImporterConfig struct {
	Dir      string        `toml:"dir" mapstructure:"dir"`
	Watch    bool          `toml:"watch" mapstructure:"watch"`
	Debounce time.Duration `toml:"debounce" mapstructure:"debounce"`
	Resync   string        `toml:"resync" mapstructure:"resync"`
}

// RateLimitConfig limits inbound requests per context path. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `toml:"rps" mapstructure:"rps"`
	Burst int     `toml:"burst" mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.inbound_prefix", "/inbound")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", int64(1<<20))
	v.SetDefault("webhook.queue_capacity", 10)
	v.SetDefault("webhook.log_capacity", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.listen", "127.0.0.1:9090")
	v.SetDefault("history.buffer", 256)
	v.SetDefault("importer.debounce", 250*time.Millisecond)
	v.SetDefault("ratelimit.burst", 20)
}

// Load reads the TOML file at path. An empty path yields defaults plus any
// HOOKD_* environment overrides (e.g. HOOKD_SERVER_LISTEN).
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("HOOKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks values that would otherwise fail late at serve time.
func (fc *FileConfig) Validate() error {
	if strings.TrimSpace(fc.Server.Listen) == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if !strings.HasPrefix(fc.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with '/': %q", fc.Server.BasePath)
	}
	if !strings.HasPrefix(fc.Server.InboundPrefix, "/") || fc.Server.InboundPrefix == "/" {
		return fmt.Errorf("server.inbound_prefix must start with '/' and not be the root: %q", fc.Server.InboundPrefix)
	}
	if strings.TrimRight(fc.Server.InboundPrefix, "/") == strings.TrimRight(fc.Server.BasePath, "/") {
		return fmt.Errorf("server.inbound_prefix and server.base_path must differ")
	}
	if fc.Webhook.QueueCapacity < 0 || fc.Webhook.LogCapacity < 0 {
		return fmt.Errorf("webhook capacities must not be negative")
	}
	if fc.RateLimit.RPS < 0 || fc.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}
	if fc.Metrics.Enabled && fc.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	return nil
}

// Logger converts the [log] section.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		Color:      l.Color,
		Dir:        l.Dir,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}
