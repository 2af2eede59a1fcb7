package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"hostmon/storage"
)

// Config holds every configurable value for the agent.
type Config struct {
	Interval    time.Duration `mapstructure:"interval"`     // pause between cycles
	Timeout     time.Duration `mapstructure:"timeout"`      // bound on each sampler/sink call
	OutputDir   string        `mapstructure:"output_dir"`   // where the daily log files go
	LogLevel    string        `mapstructure:"log_level"`    // debug|info|warn|error
	Concurrent  bool          `mapstructure:"concurrent"`   // run category pipelines in parallel
	CPUWindow   time.Duration `mapstructure:"cpu_window"`   // CPU busy measurement window
	DiskPath    string        `mapstructure:"disk_path"`    // filesystem reported as disk usage
	MetricsAddr string        `mapstructure:"metrics_addr"` // empty disables /metrics

	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig describes the datastore samples are inserted into.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite|postgres|mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`    // sqlite file
	Migrate  bool   `mapstructure:"migrate"` // create tables on start
}

// DSN returns the data source name for the configured driver.
func (d DatabaseConfig) DSN() (string, error) {
	return storage.DSN(d.Driver, storage.Params{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Name:     d.Name,
		SSLMode:  d.SSLMode,
		Path:     d.Path,
	})
}

// flagKeys maps config keys to the command-line flags that override them.
var flagKeys = map[string]string{
	"interval":        "interval",
	"timeout":         "timeout",
	"output_dir":      "output-dir",
	"log_level":       "log-level",
	"concurrent":      "concurrent",
	"metrics_addr":    "metrics-addr",
	"database.driver": "db-driver",
	"database.path":   "db-path",
}

// EnvPrefix prefixes every environment variable, e.g. HOSTMON_INTERVAL or
// HOSTMON_DATABASE_HOST.
const EnvPrefix = "HOSTMON"

// Load reads configuration from (in decreasing priority):
//  1. command-line flags bound in flags (may be nil)
//  2. environment variables (HOSTMON_*)
//  3. the yaml file at path, or ./configs/config.yaml if path is empty and it exists.
//
// It returns a fully populated *Config or an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		_ = v.ReadInConfig() // optional
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", 5*time.Second)
	v.SetDefault("timeout", 5*time.Second)
	v.SetDefault("output_dir", ".")
	v.SetDefault("log_level", "info")
	v.SetDefault("concurrent", false)
	v.SetDefault("cpu_window", 500*time.Millisecond)
	v.SetDefault("disk_path", "/")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("database.driver", storage.DriverSQLite)
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "supervision")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "./data/metrics.db")
	v.SetDefault("database.migrate", false)
}

// Validate checks values that would make the agent misbehave.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.CPUWindow < 0 {
		return fmt.Errorf("cpu_window must not be negative, got %s", c.CPUWindow)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if _, err := storage.DialectFor(c.Database.Driver); err != nil {
		return err
	}
	return nil
}
