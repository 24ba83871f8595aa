package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const defaultPeerURL = "ws://127.0.0.1:8090/ws"

type Config struct {
	PeerURL  string
	LogFile  string
	LogLevel string
}

func LoadConfig(args []string) (Config, error) {
	flagSet := flag.NewFlagSet("graphsync-tui", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagURL := flagSet.String("url", envOrDefault("GRAPHSYNC_PEER_URL", defaultPeerURL), "websocket URL of the peer")
	flagLogFile := flagSet.String("log-file", envOrDefault("GRAPHSYNC_LOG_FILE", filepath.Join(os.TempDir(), "graphsync-tui.log")), "log file (the terminal is used by the UI)")
	flagLogLevel := flagSet.String("log-level", envOrDefault("GRAPHSYNC_LOG_LEVEL", "info"), "log level: debug|info|warn|error")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
		}
		return Config{}, err
	}

	cfg := Config{
		PeerURL:  strings.TrimSpace(*flagURL),
		LogFile:  strings.TrimSpace(*flagLogFile),
		LogLevel: strings.ToLower(strings.TrimSpace(*flagLogLevel)),
	}
	if !strings.HasPrefix(cfg.PeerURL, "ws://") && !strings.HasPrefix(cfg.PeerURL, "wss://") {
		return Config{}, fmt.Errorf("url must start with ws:// or wss://: %q", cfg.PeerURL)
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
