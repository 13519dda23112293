// Package main is the entry point for the standalone bridge-mcp binary.
// bridge-mcp exposes the bridge's messaging and task operations as MCP tools
// for MCP-compatible clients (Claude Desktop, Cursor, Codex, etc.), proxying
// tool calls to a running bridge with a configured agent API key.
//
// The server supports two transports:
//   - SSE (Server-Sent Events) at /sse for Claude Desktop, Cursor
//   - Streamable HTTP at /mcp for Codex
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/mcpserver"
)

var (
	defaults      = mcpserver.DefaultConfig()
	portFlag      = flag.Int("port", defaults.Port, "MCP server port")
	bridgeURLFlag = flag.String("bridge-url", defaults.BridgeURL, "Bridge API URL")
	apiKeyFlag    = flag.String("api-key", "", "Agent API key used for proxied calls")
	logLevelFlag  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormatFlag = flag.String("log-format", "console", "Log format (console, json)")
)

func main() {
	flag.Parse()

	cfg := mcpserver.Config{
		Port:      getEnvIntOrFlag("BRIDGE_MCP_PORT", *portFlag),
		BridgeURL: getEnvOrFlag("BRIDGE_URL", *bridgeURLFlag),
		APIKey:    getEnvOrFlag("BRIDGE_API_KEY", *apiKeyFlag),
	}
	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "an agent API key is required (-api-key or BRIDGE_API_KEY)")
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      getEnvOrFlag("BRIDGE_MCP_LOG_LEVEL", *logLevelFlag),
		Format:     getEnvOrFlag("BRIDGE_MCP_LOG_FORMAT", *logFormatFlag),
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting bridge-mcp",
		zap.Int("port", cfg.Port),
		zap.String("bridge_url", cfg.BridgeURL))

	run(cfg, log)
}

// run starts the MCP server and waits for shutdown.
func run(cfg mcpserver.Config, log *logger.Logger) {
	ctx := context.Background()
	srv, cleanup, err := mcpserver.Provide(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start MCP server", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("Bridge MCP server running on :%d\n", cfg.Port)
	fmt.Printf("Bridge API URL: %s\n", cfg.BridgeURL)
	fmt.Printf("SSE endpoint: %s (for Claude Desktop, Cursor)\n", srv.SSEEndpoint())
	fmt.Printf("Streamable HTTP endpoint: %s (for Codex)\n", srv.StreamableHTTPEndpoint())

	waitForShutdown(log, func(ctx context.Context) {
		if err := cleanup(); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	})
}

func waitForShutdown(log *logger.Logger, cleanup func(ctx context.Context)) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down bridge-mcp...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cleanup(ctx)

	log.Info("bridge-mcp stopped")
}

// getEnvOrFlag returns the environment variable value if set, otherwise the
// flag value.
func getEnvOrFlag(envKey, flagValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return flagValue
}

// getEnvIntOrFlag returns the environment variable value as int if set,
// otherwise the flag value.
func getEnvIntOrFlag(envKey string, flagValue int) int {
	if v := os.Getenv(envKey); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return flagValue
}
