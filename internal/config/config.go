// Package config loads host configuration from defaults, an optional YAML
// file and MIXINHOST_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"mixinhost/internal/audit"
	"mixinhost/internal/blob"
	"mixinhost/internal/logging"
	"mixinhost/internal/mixin"
)

// EnvPrefix prefixes environment overrides, e.g. MIXINHOST_BLOB_DRIVER.
const EnvPrefix = "MIXINHOST"

// Config is the complete host configuration.
type Config struct {
	Archive ArchiveConfig `mapstructure:"archive"`
	Adapter AdapterConfig `mapstructure:"adapter"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Flush   FlushConfig   `mapstructure:"flush"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Plugins enables reference plugins by name with string options.
	Plugins map[string]map[string]string `mapstructure:"plugins"`
}

// ArchiveConfig locates the application archive (directory or jar/zip).
type ArchiveConfig struct {
	Path string `mapstructure:"path"`
}

// AdapterConfig picks the access adapter handed to the engine: "blob"
// writes to the store only, "overlay" reads through to the archive.
type AdapterConfig struct {
	Kind   string `mapstructure:"kind"`
	Prefix string `mapstructure:"prefix"`
}

type BlobConfig struct {
	Driver string   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	PathStyle       bool   `mapstructure:"path_style"`
}

type AuditConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type FlushConfig struct {
	Policy string `mapstructure:"policy"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig selects the metrics sink: "none", "expvar" or "prometheus".
type MetricsConfig struct {
	Sink string `mapstructure:"sink"`
}

// Defaults applies the built-in defaults to v.
func Defaults(v *viper.Viper) {
	v.SetDefault("adapter.kind", "overlay")
	v.SetDefault("adapter.prefix", "classes/")
	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./classdata")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("audit.driver", string(audit.DriverMemory))
	v.SetDefault("audit.path", "mixinhost-audit.db")
	v.SetDefault("flush.policy", mixin.FlushContinue.String())
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.sink", "none")
}

// Load reads configuration. An empty path searches for mixinhost.yaml in
// the working directory; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	Defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mixinhost")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnv registers keys without defaults so AutomaticEnv can see them
// during Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"archive.path",
		"blob.s3.bucket", "blob.s3.prefix", "blob.s3.endpoint",
		"blob.s3.access_key_id", "blob.s3.secret_access_key", "blob.s3.session_token", "blob.s3.path_style",
		"audit.dsn", "log.development",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Adapter.Kind {
	case "blob", "overlay":
	default:
		return fmt.Errorf("adapter.kind must be blob or overlay, got %q", c.Adapter.Kind)
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverS3, blob.DriverMemory:
	default:
		return fmt.Errorf("unknown blob.driver %q", c.Blob.Driver)
	}
	if blob.Driver(c.Blob.Driver) == blob.DriverS3 && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("blob.s3.bucket is required for the s3 driver")
	}
	switch audit.Driver(c.Audit.Driver) {
	case audit.DriverMemory, audit.DriverSQLite, audit.DriverPostgres:
	default:
		return fmt.Errorf("unknown audit.driver %q", c.Audit.Driver)
	}
	if _, err := mixin.ParseFlushPolicy(c.Flush.Policy); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Metrics.Sink {
	case "none", "expvar", "prometheus":
	default:
		return fmt.Errorf("metrics.sink must be none, expvar or prometheus, got %q", c.Metrics.Sink)
	}
	return nil
}

// BlobStoreConfig converts the blob section for blob.Open.
func (c *Config) BlobStoreConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          c.Blob.S3.Region,
			Bucket:          c.Blob.S3.Bucket,
			Prefix:          c.Blob.S3.Prefix,
			Endpoint:        c.Blob.S3.Endpoint,
			AccessKeyID:     c.Blob.S3.AccessKeyID,
			SecretAccessKey: c.Blob.S3.SecretAccessKey,
			SessionToken:    c.Blob.S3.SessionToken,
			PathStyle:       c.Blob.S3.PathStyle,
		},
	}
}

// AuditLedgerConfig converts the audit section for audit.Open.
func (c *Config) AuditLedgerConfig() audit.Config {
	return audit.Config{Driver: audit.Driver(c.Audit.Driver), Path: c.Audit.Path, DSN: c.Audit.DSN}
}

// FlushPolicy returns the parsed flush policy.
func (c *Config) FlushPolicy() mixin.FlushPolicy {
	p, _ := mixin.ParseFlushPolicy(c.Flush.Policy)
	return p
}
