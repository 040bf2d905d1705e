// Package config loads flightops configuration from an optional YAML file and
// FLIGHTOPS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/flightops/internal/logging"
	"github.com/fentz26/flightops/internal/models"
	"github.com/fentz26/flightops/internal/store"
	"github.com/spf13/viper"
)

const envPrefix = "FLIGHTOPS"

// Config holds the configuration for the daemon and CLI tools.
type Config struct {
	Server struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"server"`
	Database store.Config   `mapstructure:"database"`
	Log      logging.Config `mapstructure:"log"`

	Scheduler struct {
		Interval    time.Duration `mapstructure:"interval"`
		MaxInterval time.Duration `mapstructure:"max_interval"`
		LockTTL     time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"scheduler"`

	Dispatch struct {
		Timeout time.Duration `mapstructure:"timeout"`
		Path    string        `mapstructure:"path"`
	} `mapstructure:"dispatch"`

	Recovery struct {
		MinResultBytes int `mapstructure:"min_result_bytes"`
	} `mapstructure:"recovery"`

	Notify struct {
		Redis struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			Channel  string `mapstructure:"channel"`
		} `mapstructure:"redis"`
	} `mapstructure:"notify"`

	Workers []models.WorkerSpec `mapstructure:"workers"`
}

// DefaultDBPath is the SQLite file used when no DSN is configured.
func DefaultDBPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".flightops", "flightops.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:7466")
	v.SetDefault("database.driver", store.DriverSQLite)
	v.SetDefault("database.dsn", DefaultDBPath())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("scheduler.interval", time.Second)
	v.SetDefault("scheduler.max_interval", 30*time.Second)
	v.SetDefault("scheduler.lock_ttl", 30*time.Second)
	v.SetDefault("dispatch.timeout", 5*time.Minute)
	v.SetDefault("dispatch.path", "/process")
	v.SetDefault("recovery.min_result_bytes", 1024)
	v.SetDefault("notify.redis.addr", "")
	v.SetDefault("notify.redis.password", "")
	v.SetDefault("notify.redis.db", 0)
	v.SetDefault("notify.redis.channel", "flightops:wake")
}

// Load reads path when given, otherwise an optional flightops.yaml in the
// working directory or ~/.flightops, then applies the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("workers"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("flightops")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".flightops"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// FLIGHTOPS_WORKERS arrives as one string; the file form is a list.
	var workersEnv string
	if s, ok := v.Get("workers").(string); ok {
		workersEnv = s
		v.Set("workers", []any{})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if workersEnv != "" {
		specs, err := ParseWorkers(workersEnv)
		if err != nil {
			return nil, err
		}
		cfg.Workers = specs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseWorkers parses a comma or whitespace separated worker list. Each entry
// is name=address or a bare address, which is named machine-N by position.
func ParseWorkers(s string) ([]models.WorkerSpec, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})

	specs := make([]models.WorkerSpec, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		spec := models.WorkerSpec{Name: fmt.Sprintf("machine-%d", i+1), Address: f}
		if name, addr, ok := strings.Cut(f, "="); ok {
			spec.Name, spec.Address = strings.TrimSpace(name), strings.TrimSpace(addr)
		}
		if spec.Name == "" || spec.Address == "" {
			return nil, fmt.Errorf("invalid worker entry %q", f)
		}
		if !strings.Contains(spec.Address, "://") {
			spec.Address = "http://" + spec.Address
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate worker name %q", spec.Name)
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be positive")
	}
	if c.Scheduler.MaxInterval < c.Scheduler.Interval {
		c.Scheduler.MaxInterval = c.Scheduler.Interval
	}
	if c.Dispatch.Timeout <= 0 {
		return errors.New("dispatch.timeout must be positive")
	}
	if c.Recovery.MinResultBytes < 0 {
		return errors.New("recovery.min_result_bytes must not be negative")
	}
	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	for _, w := range c.Workers {
		if w.Name == "" || w.Address == "" {
			return fmt.Errorf("worker entry needs name and address: %+v", w)
		}
	}
	return nil
}
