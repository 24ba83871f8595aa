package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmax-ai/graphsync/pkg/simulation"
)

const defaultAPIURL = "http://127.0.0.1:8090"

type Config struct {
	ScenarioFile string
	APIURL       string
	JSONOutput   bool
	OutputFile   string
	LogLevel     string
	WaitTimeout  time.Duration
}

func LoadConfig(args []string) (Config, error) {
	flagSet := flag.NewFlagSet("graphsync-sim", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagScenario := flagSet.String("scenario", "", "Path to scenario file (.json or .yaml)")
	flagAPI := flagSet.String("api", envOrDefault("GRAPHSYNC_API_URL", defaultAPIURL), "Base URL of graphsync-d API")
	flagJSON := flagSet.Bool("json", false, "Output results as JSON")
	flagOut := flagSet.String("out", "", "Write output to file instead of stdout")
	flagLogLevel := flagSet.String("log-level", envOrDefault("GRAPHSYNC_LOG_LEVEL", "warn"), "log level: debug|info|warn|error")
	flagWait := flagSet.Duration("wait", 10*time.Second, "How long to wait for the relay to become ready")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
		}
		return Config{}, err
	}

	cfg := Config{
		ScenarioFile: strings.TrimSpace(*flagScenario),
		APIURL:       strings.TrimSpace(*flagAPI),
		JSONOutput:   *flagJSON,
		OutputFile:   strings.TrimSpace(*flagOut),
		LogLevel:     strings.ToLower(strings.TrimSpace(*flagLogLevel)),
		WaitTimeout:  *flagWait,
	}
	if cfg.APIURL == "" {
		return Config{}, fmt.Errorf("api url must not be empty")
	}
	if cfg.WaitTimeout <= 0 {
		return Config{}, fmt.Errorf("wait must be positive: %s", cfg.WaitTimeout)
	}
	return cfg, nil
}

// loadScenario reads a JSON or YAML scenario file, or returns the built-in demo when path is empty.
func loadScenario(path string) (simulation.Scenario, error) {
	if path == "" {
		return defaultScenario(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return simulation.Scenario{}, fmt.Errorf("failed to read scenario file: %w", err)
	}
	var scenario simulation.Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &scenario)
	default:
		err = json.Unmarshal(data, &scenario)
	}
	if err != nil {
		return simulation.Scenario{}, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	if scenario.Duration <= 0 {
		return simulation.Scenario{}, fmt.Errorf("scenario %q: duration must be positive", scenario.Name)
	}
	if len(scenario.Agents) == 0 {
		return simulation.Scenario{}, fmt.Errorf("scenario %q: no agents", scenario.Name)
	}
	return scenario, nil
}

func defaultScenario() simulation.Scenario {
	return simulation.Scenario{
		Name:        "Default Demo",
		Description: "Three peers editing one graph",
		Duration:    10 * time.Second,
		Agents: []simulation.AgentConfig{
			{
				Name:     "editor",
				Count:    3,
				Behavior: simulation.BehaviorPeriodic,
				Rate:     2,
			},
		},
		Invariants: []simulation.Invariant{
			{Metric: "divergence_rate", Condition: "<=", Value: 0, Scope: "global"},
		},
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
