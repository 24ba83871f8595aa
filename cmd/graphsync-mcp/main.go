package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/mcp"
	"github.com/rmax-ai/graphsync/pkg/observability"
)

func main() {
	_ = godotenv.Load()

	apiURL := "http://127.0.0.1:8090"
	if v := os.Getenv("GRAPHSYNC_API_URL"); v != "" {
		apiURL = v
	}
	flag.StringVar(&apiURL, "api", apiURL, "Base URL of the graphsync-d API")
	logFile := flag.String("log-file", os.Getenv("GRAPHSYNC_LOG_FILE"), "Optional log file")
	flag.Parse()

	// stdout carries the MCP stream, so logs go to the file only.
	logCfg := observability.DefaultLoggerConfig("graphsync-mcp")
	logCfg.Quiet = true
	logCfg.LogFile = *logFile
	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graphsync-mcp: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("mcp_server_starting", zap.String("api_url", apiURL))
	if err := mcp.NewServer(apiURL).Serve(); err != nil {
		logger.Error("mcp_server_failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "graphsync-mcp: %v\n", err)
		os.Exit(1)
	}
}
