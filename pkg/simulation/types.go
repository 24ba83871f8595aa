package simulation

import (
	"time"
)

// SimulationResult captures the final state of the simulation for reporting
type SimulationResult struct {
	ScenarioName      string                 `json:"scenario_name"`
	Duration          time.Duration          `json:"duration"`
	Peers             int                    `json:"peers"`
	TotalActions      uint64                 `json:"total_actions"`
	TotalApplied      uint64                 `json:"total_applied"`
	TotalRejected     uint64                 `json:"total_rejected"`
	TotalErrors       uint64                 `json:"total_errors"`
	TotalSendFailures uint64                 `json:"total_send_failures"`
	TotalReceived     uint64                 `json:"total_received"`
	TotalInjected     uint64                 `json:"total_injected"`
	DivergentPeers    int                    `json:"divergent_peers"`
	RelayNodes        int                    `json:"relay_nodes"`
	RelayEdges        int                    `json:"relay_edges"`
	AgentStats        map[string]*AgentStats `json:"agent_stats"`
	Invariants        []InvariantResult      `json:"invariants"`
	Success           bool                   `json:"success"`
}

// AgentStats aggregates every peer started from one AgentConfig.
type AgentStats struct {
	Peers        uint64 `json:"peers"`
	Actions      uint64 `json:"actions"`
	Applied      uint64 `json:"applied"`
	Rejected     uint64 `json:"rejected"`
	Errors       uint64 `json:"errors"`
	SendFailures uint64 `json:"send_failures"`
	Received     uint64 `json:"received"`
	Divergent    uint64 `json:"divergent"`
}

type InvariantResult struct {
	Metric   string `json:"metric"`
	Scope    string `json:"scope"`
	Expected string `json:"expected"` // e.g. "< 0.10"
	Actual   string `json:"actual"`   // e.g. "0.0421"
	Passed   bool   `json:"passed"`
}

type Scenario struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Duration    time.Duration   `json:"duration" yaml:"duration"`
	Settle      time.Duration   `json:"settle" yaml:"settle"` // Quiet period before comparing graphs
	Seed        int64           `json:"seed" yaml:"seed"`     // Deterministic seed
	Agents      []AgentConfig   `json:"agents" yaml:"agents"`
	Sabotage    *SabotageConfig `json:"sabotage,omitempty" yaml:"sabotage,omitempty"`
	Invariants  []Invariant     `json:"invariants,omitempty" yaml:"invariants,omitempty"`
}

type Invariant struct {
	Metric    string  `json:"metric" yaml:"metric"`       // rejection_rate, error_rate, send_failure_rate, divergence_rate
	Condition string  `json:"condition" yaml:"condition"` // e.g., ">", "<", ">=", "<="
	Value     float64 `json:"value" yaml:"value"`
	Scope     string  `json:"scope" yaml:"scope"` // "global" or specific agent name
}

type AgentConfig struct {
	Name        string        `json:"name" yaml:"name"`
	Count       int           `json:"count" yaml:"count"`
	Behavior    BehaviorType  `json:"behavior" yaml:"behavior"`
	Rate        int           `json:"rate" yaml:"rate"` // Actions per second
	Burst       int           `json:"burst" yaml:"burst"`
	Jitter      time.Duration `json:"jitter" yaml:"jitter"`
	Mix         ActionMix     `json:"mix" yaml:"mix"`
	InvalidRate float64       `json:"invalid_rate" yaml:"invalid_rate"` // Share of answers that are garbage
}

// ActionMix weights the four local actions. A zero mix uses DefaultMix.
type ActionMix struct {
	AddNode    int `json:"add_node" yaml:"add_node"`
	RemoveNode int `json:"remove_node" yaml:"remove_node"`
	AddEdge    int `json:"add_edge" yaml:"add_edge"`
	RemoveEdge int `json:"remove_edge" yaml:"remove_edge"`
}

// DefaultMix grows the graph while still exercising removals.
var DefaultMix = ActionMix{AddNode: 4, RemoveNode: 1, AddEdge: 3, RemoveEdge: 1}

func (m ActionMix) total() int {
	return m.AddNode + m.RemoveNode + m.AddEdge + m.RemoveEdge
}

type BehaviorType string

const (
	BehaviorPeriodic BehaviorType = "periodic"
	BehaviorGreedy   BehaviorType = "greedy"
	BehaviorPoisson  BehaviorType = "poisson"
	BehaviorBursty   BehaviorType = "bursty"
)

// SabotageConfig injects events through the HTTP API that every peer must reject.
type SabotageConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}
