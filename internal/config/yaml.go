// Package config defines the tally.yaml configuration file: its defaults,
// how it is loaded and checked, and how it is written by `tally config init`.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the top-level tally configuration. The yaml and mapstructure
// tags share key names so the same file can be read by yaml.v3 directly or
// through viper.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	EnableUI        bool          `yaml:"ui" mapstructure:"ui"`
}

// DatabaseConfig selects the CRM database.
type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres or mysql
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// AuthConfig controls credentials.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	KeyPepper    string        `yaml:"key_pepper" mapstructure:"key_pepper"`
	APIKeyHeader string        `yaml:"api_key_header" mapstructure:"api_key_header"`
	SessionTTL   time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
}

// RateLimitConfig caps requests per credential (or client IP) per minute.
// Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// PipelineConfig tunes deal approvals and the pipeline metrics refresher.
type PipelineConfig struct {
	// ApprovalThreshold is a decimal string. A sales rep closing a deal worth
	// at least this much needs a manager's approval. "0" disables approvals.
	ApprovalThreshold string        `yaml:"approval_threshold" mapstructure:"approval_threshold"`
	RefreshInterval   time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// MetricsConfig toggles the Prometheus endpoint and pipeline gauges.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// Default returns a Config pre-filled with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 30 * time.Second,
			EnableUI:        true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(DataDir(), "tally.db"),
		},
		Auth: AuthConfig{
			APIKeyHeader: "X-API-Key",
			SessionTTL:   24 * time.Hour,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600},
		Pipeline: PipelineConfig{
			ApprovalThreshold: "10000",
			RefreshInterval:   time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Defaults flattens Default into dotted keys, for registering with viper so
// that every key can be overridden from the environment.
func Defaults() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"server.host":                    d.Server.Host,
		"server.port":                    d.Server.Port,
		"server.cors_origins":            d.Server.CORSOrigins,
		"server.shutdown_timeout":        d.Server.ShutdownTimeout,
		"server.ui":                      d.Server.EnableUI,
		"database.driver":                d.Database.Driver,
		"database.dsn":                   d.Database.DSN,
		"auth.jwt_secret":                d.Auth.JWTSecret,
		"auth.key_pepper":                d.Auth.KeyPepper,
		"auth.api_key_header":            d.Auth.APIKeyHeader,
		"auth.session_ttl":               d.Auth.SessionTTL,
		"rate_limit.requests_per_minute": d.RateLimit.RequestsPerMinute,
		"pipeline.approval_threshold":    d.Pipeline.ApprovalThreshold,
		"pipeline.refresh_interval":      d.Pipeline.RefreshInterval,
		"logging.level":                  d.Logging.Level,
		"logging.format":                 d.Logging.Format,
		"metrics.enabled":                d.Metrics.Enabled,
	}
}

// DataDir is where tally keeps its SQLite database, PID and log files:
// $TALLY_DATA_DIR, or ~/.tally.
func DataDir() string {
	if dir := os.Getenv("TALLY_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tally"
	}
	return filepath.Join(home, ".tally")
}

// Load reads a YAML configuration file over the defaults. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite, postgres or mysql", c.Database.Driver))
	}
	if c.Database.Driver != "" && c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required for %s", c.Database.Driver))
	}
	if c.Auth.APIKeyHeader == "" {
		errs = append(errs, errors.New("auth.api_key_header must not be empty"))
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_minute must not be negative"))
	}
	if _, err := c.Pipeline.Threshold(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want text or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Threshold parses ApprovalThreshold. Empty means zero (approvals off).
func (p PipelineConfig) Threshold() (decimal.Decimal, error) {
	if strings.TrimSpace(p.ApprovalThreshold) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(p.ApprovalThreshold))
	if err != nil {
		return decimal.Zero, fmt.Errorf("pipeline.approval_threshold %q: %w", p.ApprovalThreshold, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("pipeline.approval_threshold %q must not be negative", p.ApprovalThreshold)
	}
	return d, nil
}

// Redacted returns a copy of c safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	c.Auth.KeyPepper = mask(c.Auth.KeyPepper)
	if c.Database.Driver != "" && c.Database.Driver != "sqlite" {
		c.Database.DSN = mask(c.Database.DSN)
	}
	return c
}

// Marshal renders c as YAML.
func Marshal(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to a YAML file. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	data, err := Marshal(Default())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write config file: %w", err)
	}
	return f.Close()
}
