package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tallycrm/tally/internal/config"
	"github.com/tallycrm/tally/internal/service"
	"github.com/tallycrm/tally/internal/store"
)

// loadConfig decodes the merged viper settings (file, env, flags) over the
// defaults and validates the result.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. dev forces debug level.
func newLogger(cfg config.LoggingConfig, w io.Writer, dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if dev {
		opts.Level = slog.LevelDebug
	}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore opens the CRM database named by cfg, creating the data
// directory for a file-backed SQLite database.
func openStore(cfg config.DatabaseConfig) (*store.Store, error) {
	if (cfg.Driver == "" || cfg.Driver == "sqlite") && cfg.DSN != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(store.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}

// openAuth opens the store and an AuthService over it, for commands that
// issue or check credentials.
func openAuth(cfg config.Config, logger *slog.Logger) (*store.Store, *service.AuthService, error) {
	st, err := openStore(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	authSvc := service.NewAuthService(st, service.Options{
		JWTSecret:  cfg.Auth.JWTSecret,
		KeyPepper:  cfg.Auth.KeyPepper,
		SessionTTL: cfg.Auth.SessionTTL,
		Logger:     logger,
	})
	return st, authSvc, nil
}

// quietLogger is used by one-shot commands that print their own output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(config.DataDir(), "tally.pid")
}

func writePID(pid int) error {
	if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(config.DataDir(), "tally.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
