package simulation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/client"
	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
)

const defaultSettle = 500 * time.Millisecond

// RunScenario connects the scenario's peers to the relay at apiURL, drives them for
// s.Duration, then compares every peer's graph with the relay's.
func RunScenario(ctx context.Context, s Scenario, apiURL string, logger *zap.Logger) SimulationResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}
	if s.Settle <= 0 {
		s.Settle = defaultSettle
	}

	logger.Info("scenario_starting", zap.String("name", s.Name), zap.Int64("seed", s.Seed))

	res := SimulationResult{
		ScenarioName: s.Name,
		Duration:     s.Duration,
		AgentStats:   make(map[string]*AgentStats),
	}

	api := client.NewClient(apiURL)
	wsURL := websocketURL(api.Endpoint())

	// Peers stay connected past the action phase so in-flight events can land.
	connCtx, disconnect := context.WithCancel(ctx)
	defer disconnect()

	var peers []*peer
	var runs []<-chan error
	for agentIdx, agentCfg := range s.Agents {
		stats, ok := res.AgentStats[agentCfg.Name]
		if !ok {
			stats = &AgentStats{}
			res.AgentStats[agentCfg.Name] = stats
		}
		for i := 0; i < agentCfg.Count; i++ {
			id := fmt.Sprintf("%s-%d", agentCfg.Name, i)
			seed := s.Seed + int64(agentIdx*1000) + int64(i)
			p := newPeer(id, wsURL, agentCfg, seed, stats, &res, logger)
			done, err := p.connect(connCtx)
			if err != nil {
				logger.Error("peer_connect_failed", zap.String("peer", id), zap.Error(err))
				atomic.AddUint64(&res.TotalErrors, 1)
				atomic.AddUint64(&stats.Errors, 1)
				continue
			}
			stats.Peers++
			peers = append(peers, p)
			runs = append(runs, done)
		}
	}
	res.Peers = len(peers)

	actCtx, cancel := context.WithTimeout(ctx, s.Duration)
	defer cancel()

	var wg sync.WaitGroup

	// Start Saboteur
	if s.Sabotage != nil && s.Sabotage.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSaboteur(actCtx, api, s.Sabotage.Interval, rand.New(rand.NewSource(s.Seed+9999)), &res, logger)
		}()
	}

	// Start Agents
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer) {
			defer wg.Done()
			runAgent(actCtx, p)
		}(p)
	}

	wg.Wait()

	select {
	case <-ctx.Done():
	case <-time.After(s.Settle):
	}

	compareWithRelay(ctx, api, peers, &res, logger)

	disconnect()
	for i, p := range peers {
		p.close()
		<-runs[i]
	}

	// Evaluate Invariants
	evaluateInvariants(&res, s.Invariants)

	// Determine overall success
	res.Success = true
	for _, inv := range res.Invariants {
		if !inv.Passed {
			res.Success = false
			break
		}
	}

	logger.Info("scenario_finished", zap.String("name", s.Name), zap.Bool("success", res.Success))
	return res
}

func runAgent(ctx context.Context, p *peer) {
	cfg := p.cfg
	rate := cfg.Rate
	if rate <= 0 {
		rate = 1
	}

	switch cfg.Behavior {
	case BehaviorGreedy:
		for ctx.Err() == nil {
			p.act(ctx)
		}
	case BehaviorPoisson:
		lambda := float64(rate)
		for {
			interval := -math.Log(1-p.rng.Float64()) / lambda
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(interval * float64(time.Second))):
				p.act(ctx)
			}
		}
	case BehaviorBursty:
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for k := 0; k < cfg.Burst && ctx.Err() == nil; k++ {
					p.act(ctx)
				}
			}
		}
	case BehaviorPeriodic:
		fallthrough
	default:
		interval := time.Second / time.Duration(rate)
		if interval == 0 {
			interval = time.Millisecond * 10
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cfg.Jitter > 0 {
					time.Sleep(time.Duration(p.rng.Int63n(int64(cfg.Jitter))))
				}
				p.act(ctx)
			}
		}
	}
}

// runSaboteur injects events that reference ids no peer ever assigns, so every
// graph must reject them.
func runSaboteur(ctx context.Context, api *client.Client, interval time.Duration, rng *rand.Rand, res *SimulationResult, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bogus := -1 - rng.Intn(1000)
			var ev protocol.Event
			switch rng.Intn(3) {
			case 0:
				ev = protocol.RemoveNode(bogus)
			case 1:
				ev = protocol.AddEdge(protocol.AddEdgePayload{From: bogus, To: bogus - 1, Label: "sabotage"})
			default:
				ev = protocol.RemoveEdge(bogus, bogus)
			}
			if err := api.SendEvent(ctx, ev); err != nil {
				if ctx.Err() == nil {
					logger.Warn("sabotage_send_failed", zap.Error(err))
				}
				continue
			}
			atomic.AddUint64(&res.TotalInjected, 1)
		}
	}
}

// compareWithRelay counts peers whose graph differs from the relay's.
func compareWithRelay(ctx context.Context, api *client.Client, peers []*peer, res *SimulationResult, logger *zap.Logger) {
	relayGraph, err := api.GetGraph(ctx)
	if err != nil {
		logger.Error("relay_graph_fetch_failed", zap.Error(err))
		res.DivergentPeers = len(peers)
		for _, p := range peers {
			atomic.AddUint64(&p.stats.Divergent, 1)
		}
		return
	}
	res.RelayNodes = len(relayGraph.Nodes)
	res.RelayEdges = len(relayGraph.VisibleEdges())

	for _, p := range peers {
		if !SameGraph(p.session.Snapshot(), relayGraph) {
			res.DivergentPeers++
			atomic.AddUint64(&p.stats.Divergent, 1)
			logger.Info("peer_diverged", zap.String("peer", p.id))
		}
	}
}

// SameGraph reports whether two graphs hold the same nodes and the same visible edges.
// Edge sequence numbers and order are ignored; duplicate edges count.
func SameGraph(a, b *graph.Graph) bool {
	if len(a.Nodes) != len(b.Nodes) {
		return false
	}
	for _, n := range a.Nodes {
		m, ok := b.NodeByID(n.ID)
		if !ok || m != n {
			return false
		}
	}
	return equalEdgeSets(a.VisibleEdges(), b.VisibleEdges())
}

func equalEdgeSets(a, b []graph.Edge) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(edges []graph.Edge) []string {
		out := make([]string, len(edges))
		for i, e := range edges {
			out[i] = fmt.Sprintf("%d>%d:%s", e.From, e.To, e.Label)
		}
		sort.Strings(out)
		return out
	}
	ka, kb := key(a), key(b)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

func evaluateInvariants(res *SimulationResult, invariants []Invariant) {
	for _, inv := range invariants {
		var stats AgentStats
		if inv.Scope == "global" || inv.Scope == "" {
			stats = AgentStats{
				Peers:        uint64(res.Peers),
				Actions:      atomic.LoadUint64(&res.TotalActions),
				Rejected:     atomic.LoadUint64(&res.TotalRejected),
				Errors:       atomic.LoadUint64(&res.TotalErrors),
				SendFailures: atomic.LoadUint64(&res.TotalSendFailures),
				Divergent:    uint64(res.DivergentPeers),
			}
		} else if s, ok := res.AgentStats[inv.Scope]; ok {
			stats = AgentStats{
				Peers:        atomic.LoadUint64(&s.Peers),
				Actions:      atomic.LoadUint64(&s.Actions),
				Rejected:     atomic.LoadUint64(&s.Rejected),
				Errors:       atomic.LoadUint64(&s.Errors),
				SendFailures: atomic.LoadUint64(&s.SendFailures),
				Divergent:    atomic.LoadUint64(&s.Divergent),
			}
		} else {
			// Agent not found
			res.Invariants = append(res.Invariants, InvariantResult{
				Metric: inv.Metric, Scope: inv.Scope, Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value), Actual: "N/A", Passed: false,
			})
			continue
		}

		actual := ratio(inv.Metric, stats)

		var passed bool
		switch inv.Condition {
		case ">":
			passed = actual > inv.Value
		case ">=":
			passed = actual >= inv.Value
		case "<":
			passed = actual < inv.Value
		case "<=":
			passed = actual <= inv.Value
		case "==":
			passed = math.Abs(actual-inv.Value) < 0.0001
		}

		res.Invariants = append(res.Invariants, InvariantResult{
			Metric:   inv.Metric,
			Scope:    inv.Scope,
			Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value),
			Actual:   fmt.Sprintf("%.4f", actual),
			Passed:   passed,
		})
	}
}

func ratio(metric string, s AgentStats) float64 {
	var num, den uint64
	switch metric {
	case "rejection_rate":
		num, den = s.Rejected, s.Actions
	case "error_rate":
		num, den = s.Errors, s.Actions
	case "send_failure_rate":
		num, den = s.SendFailures, s.Actions
	case "divergence_rate":
		num, den = s.Divergent, s.Peers
	}
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// websocketURL maps the relay's HTTP endpoint to its /ws endpoint.
func websocketURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://") + "/ws"
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://") + "/ws"
	}
	return endpoint + "/ws"
}
