package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tallycrm/tally/internal/config"
	"github.com/tallycrm/tally/internal/server"
	"github.com/tallycrm/tally/internal/telemetry"
)

const banner = `
 _____  _    _     _  __   __
|_   _|/ \  | |   | | \ \ / /
  | | / _ \ | |   | |  \ V /
  | |/ ___ \| |___| |___| |
  |_/_/   \_\_____|_____|_|
`

func newServeCmd() *cobra.Command {
	var (
		noUI   bool
		dev    bool
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Tally API server",
		Long: `Start the HTTP server that exposes the CRM REST API, the pipeline,
the embedded web client, /openapi.json and /metrics.

With --detach the server is started in the background, writing its logs to
the data directory; use 'tally status' and 'tally stop' to manage it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if detach {
				return runDetached()
			}
			return runServe(noUI, dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&noUI, "no-ui", false, "Disable the embedded web client")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(noUI, dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr, dev)

	if pid, err := readPID(); err == nil && pid != os.Getpid() && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d); use 'tally stop' first", pid)
	}

	fmt.Print(banner)
	fmt.Println()

	if cfg.Auth.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		cfg.Auth.JWTSecret = secret
		logger.Warn("auth.jwt_secret not set; sessions will not survive a restart (set TALLY_AUTH_JWT_SECRET)")
	}

	st, authSvc, err := openAuth(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("database ready", "driver", st.Driver(), "dsn", cfg.Redacted().Database.DSN)

	hasUser, err := st.HasAnyUser(context.Background())
	if err != nil {
		logger.Warn("failed to check for users", "error", err)
	}
	if !hasUser {
		logger.Warn("no users found - run: tally user create --email you@example.com --role admin")
	}

	threshold, err := cfg.Pipeline.Threshold()
	if err != nil {
		return err
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.New()
	}

	srvCfg := server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		CORSOrigins:       cfg.Server.CORSOrigins,
		EnableUI:          cfg.Server.EnableUI && !noUI,
		APIKeyHeader:      cfg.Auth.APIKeyHeader,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		ApprovalThreshold: threshold,
		RefreshInterval:   cfg.Pipeline.RefreshInterval,
		Version:           versionString(),
	}
	srv := server.New(srvCfg, st, authSvc, metrics, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "path", pidFilePath(), "error", err)
	}
	defer removePID()

	base := fmt.Sprintf("http://%s:%d", displayHost(srvCfg.Host), srvCfg.Port)
	fmt.Printf("→ Tally %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", base)
	if srvCfg.EnableUI {
		fmt.Printf("→ Web client: %s/\n", base)
	}
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Printf("→ Health:     %s/healthz\n", base)
	if metrics != nil {
		fmt.Printf("→ Metrics:    %s/metrics\n", base)
	}
	fmt.Println()

	return srv.ListenAndServe()
}

// runDetached re-executes the current binary as a foreground server in a
// new session, with output appended to the log file.
func runDetached() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, childArgs(os.Args[1:])...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "TALLY_DATA_DIR="+config.DataDir())
	setSysProcAttr(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// Give the child a moment to fail fast on bad config or a busy port.
	time.Sleep(500 * time.Millisecond)
	if !isProcessRunning(child.Process.Pid) {
		return fmt.Errorf("server exited during startup; see %s", logFilePath())
	}

	fmt.Printf("Tally server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop: tally stop")
	return child.Process.Release()
}

// childArgs strips the detach flag so the child runs in the foreground.
func childArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch a {
		case "-d", "--detach", "--detach=true":
			continue
		}
		out = append(out, a)
	}
	return out
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
