package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	tmcp "github.com/tallycrm/tally/internal/mcp"
	"github.com/tallycrm/tally/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		apiKey    string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes the pipeline, deals,
contacts and activities as tools for AI agents. Supports stdio (default) and HTTP transports.

The server acts as the user who owns the API key given with --api-key or the
TALLY_API_KEY environment variable: a sales rep's key sees only their own records.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for desktop MCP clients that launch tally as a subprocess.`,
		Example: `  TALLY_API_KEY=tly_... tally mcp             # stdio mode
  tally mcp --api-key tly_... --transport http --port 3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("TALLY_API_KEY")
			}
			return runMCP(transport, port, apiKey)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key the agent acts as (default: $TALLY_API_KEY)")

	return cmd
}

func runMCP(transport string, port int, apiKey string) error {
	if transport != "stdio" && transport != "http" {
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
	if apiKey == "" {
		return fmt.Errorf("an API key is required: pass --api-key or set TALLY_API_KEY")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol in stdio mode, so logs go to stderr.
	logger := newLogger(cfg.Logging, os.Stderr, false)

	st, authSvc, err := openAuth(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		authSvc.Recorder().Drain(ctx)
	}()

	principal, err := authSvc.AuthenticateKey(context.Background(), apiKey)
	if err != nil {
		if service.IsUnauthorized(err) {
			return fmt.Errorf("API key rejected: it is unknown, revoked, expired, or its user is disabled")
		}
		return fmt.Errorf("authenticate api key: %w", err)
	}

	threshold, err := cfg.Pipeline.Threshold()
	if err != nil {
		return err
	}

	srv := tmcp.NewMCPServer(st, tmcp.Options{
		Principal:         principal,
		ApprovalThreshold: threshold,
		Version:           versionString(),
		Logger:            logger,
	})

	if transport == "http" {
		return srv.ServeHTTP(fmt.Sprintf(":%d", port))
	}
	return srv.ServeStdio()
}
