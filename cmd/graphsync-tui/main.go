package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/engine"
	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/observability"
	"github.com/rmax-ai/graphsync/pkg/transport"
)

func main() {
	_ = godotenv.Load()

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "graphsync-tui: %v\n", err)
		os.Exit(2)
	}

	// The terminal belongs to the UI, so logs only go to the file.
	logCfg := observability.DefaultLoggerConfig("graphsync-tui")
	logCfg.Level = cfg.LogLevel
	logCfg.LogFile = cfg.LogFile
	logCfg.Quiet = true
	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graphsync-tui: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("tui_exited_with_error", zap.Error(err))
		fmt.Printf("Alas, there's been an error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := transport.NewChannel(cfg.PeerURL, "", logger.Named("transport"))
	defer channel.Close()

	session := engine.NewSession(graph.NewStore(), channel, logger.Named("session"))
	bridge := &uiBridge{}
	actions := engine.NewActions(session, bridge, bridge)

	p := tea.NewProgram(newModel(ctx, session, actions, channel, cfg.PeerURL), tea.WithAltScreen())
	bridge.send = p.Send
	// OnChange runs with the session held; Send must not block it.
	session.OnChange(func() { go p.Send(graphChangedMsg{}) })

	logger.Info("tui_started", zap.String("peer_url", cfg.PeerURL))
	_, err := p.Run()
	// Unblocks an action still waiting on a prompt.
	cancel()
	logger.Info("tui_stopped")
	return err
}
