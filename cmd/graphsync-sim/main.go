package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/client"
	"github.com/rmax-ai/graphsync/pkg/observability"
	"github.com/rmax-ai/graphsync/pkg/simulation"
)

func main() {
	_ = godotenv.Load()

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "graphsync-sim: %v\n", err)
		os.Exit(2)
	}

	logCfg := observability.DefaultLoggerConfig("graphsync-sim")
	logCfg.Level = cfg.LogLevel
	logCfg.Format = "console"
	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graphsync-sim: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	scenario, err := loadScenario(cfg.ScenarioFile)
	if err != nil {
		logger.Fatal("scenario_load_failed", zap.Error(err))
	}
	if cfg.ScenarioFile == "" {
		fmt.Fprintln(os.Stderr, "No scenario file provided, running default demo scenario...")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.WaitTimeout)
	_, err = client.NewClient(cfg.APIURL).WaitReady(waitCtx, client.DefaultBackoff())
	cancel()
	if err != nil {
		logger.Fatal("relay_unavailable", zap.String("api_url", cfg.APIURL), zap.Error(err))
	}

	result := simulation.RunScenario(ctx, scenario, cfg.APIURL, logger)

	if err := writeReport(result, cfg.JSONOutput, cfg.OutputFile, os.Stdout); err != nil {
		logger.Fatal("report_failed", zap.Error(err))
	}

	if !result.Success {
		os.Exit(1)
	}
}

func writeReport(res simulation.SimulationResult, jsonFmt bool, filePath string, stdout io.Writer) error {
	output, err := renderReport(res, jsonFmt)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if filePath != "" {
		if err := os.WriteFile(filePath, output, 0644); err != nil {
			return fmt.Errorf("failed to write report to %s: %w", filePath, err)
		}
		fmt.Fprintf(stdout, "Report written to %s\n", filePath)
		return nil
	}
	fmt.Fprintln(stdout, string(output))
	return nil
}

func renderReport(res simulation.SimulationResult, jsonFmt bool) ([]byte, error) {
	if jsonFmt {
		return json.MarshalIndent(res, "", "  ")
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("\n--- Simulation Report: %s ---\n", res.ScenarioName))
	buf.WriteString(fmt.Sprintf("Duration: %s | Peers: %d\n", res.Duration, res.Peers))
	buf.WriteString(fmt.Sprintf("Actions: %d | Applied: %d | Rejected: %d | Errors: %d | Send failures: %d\n",
		res.TotalActions, res.TotalApplied, res.TotalRejected, res.TotalErrors, res.TotalSendFailures))
	buf.WriteString(fmt.Sprintf("Received: %d | Injected: %d\n", res.TotalReceived, res.TotalInjected))
	buf.WriteString(fmt.Sprintf("Relay graph: %d nodes, %d edges | Divergent peers: %d\n",
		res.RelayNodes, res.RelayEdges, res.DivergentPeers))

	if len(res.Invariants) > 0 {
		buf.WriteString("\nInvariants:\n")
		for _, inv := range res.Invariants {
			status := "FAIL"
			if inv.Passed {
				status = "PASS"
			}
			buf.WriteString(fmt.Sprintf("[%s] %s (%s): Expected %s, Got %s\n", status, inv.Metric, inv.Scope, inv.Expected, inv.Actual))
		}
	}
	return buf.Bytes(), nil
}
