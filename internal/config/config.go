// Package config loads client and dashboard configuration from a YAML
// file, SPARKLE_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/pkg/client"
)

// EnvPrefix is prepended to every environment override, e.g.
// SPARKLE_CLIENT_DEVICE_NAME.
const EnvPrefix = "SPARKLE"

// Config is the complete configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Client    ClientConfig    `mapstructure:"client"`
	Store     StoreConfig     `mapstructure:"store"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
	Output string `mapstructure:"output" validate:"required"`
}

// ClientConfig tunes the connection and recent files list.
type ClientConfig struct {
	DeviceName     string        `mapstructure:"device_name" validate:"required"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" validate:"gte=1,lte=64"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	MaxBodySize    int64         `mapstructure:"max_body_size" validate:"gt=0"`
	MaxRecentFiles int           `mapstructure:"max_recent_files" validate:"gte=1"`
}

// StoreConfig selects where credentials and recent files are kept.
type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=file badger memory"`
	Path    string `mapstructure:"path" validate:"required_unless=Backend memory"`
}

// DashboardConfig configures the development dashboard server.
type DashboardConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr" validate:"required"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	CodeTTL     time.Duration `mapstructure:"code_ttl" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from configPath, or from the default location
// when configPath is empty. A missing default file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(ConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// setDefaults registers every key, which also makes each one reachable
// through its environment variable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("client.device_name", defaultDeviceName())
	v.SetDefault("client.max_concurrent", client.DefaultMaxConcurrent)
	v.SetDefault("client.request_timeout", client.DefaultRequestTimeout)
	v.SetDefault("client.max_body_size", client.DefaultMaxBodySize)
	v.SetDefault("client.max_recent_files", 100)

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", DataDir())

	v.SetDefault("dashboard.listen_addr", ":8080")
	v.SetDefault("dashboard.metrics_addr", "")
	v.SetDefault("dashboard.jwt_secret", "")
	v.SetDefault("dashboard.code_ttl", 10*time.Minute)
}

// Validate checks struct tags and reports the first failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: failed on '%s' (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

// ConfigDir returns $XDG_CONFIG_HOME/sparkleshare, or ~/.config/sparkleshare.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "sparkleshare")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sparkleshare")
}

// DataDir returns $XDG_DATA_HOME/sparkleshare, or ~/.local/share/sparkleshare.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "sparkleshare")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "sparkleshare")
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return client.DefaultDeviceName
}

// LoggingOptions converts the logging section for logging.Init.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		OutputPath: c.Logging.Output,
	}
}

// ClientOptions converts the client section for client.New.
func (c *Config) ClientOptions() client.Config {
	return client.Config{
		DeviceName:     c.Client.DeviceName,
		MaxConcurrent:  c.Client.MaxConcurrent,
		RequestTimeout: c.Client.RequestTimeout,
		MaxBodySize:    c.Client.MaxBodySize,
	}
}
