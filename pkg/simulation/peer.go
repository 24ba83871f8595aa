package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/engine"
	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
	"github.com/rmax-ai/graphsync/pkg/transport"
)

type actionKind int

const (
	actionAddNode actionKind = iota
	actionRemoveNode
	actionAddEdge
	actionRemoveEdge
)

// peer is one simulated user: a session connected to the relay and driven through
// the same action handlers the terminal client uses.
type peer struct {
	id      string
	cfg     AgentConfig
	rng     *rand.Rand
	channel *transport.Channel
	session *engine.Session
	actions *engine.Actions
	stats   *AgentStats
	global  *SimulationResult
	logger  *zap.Logger

	current actionKind
	// pendingTo holds the destination chosen together with the source of an edge.
	pendingTo string
}

func newPeer(id, wsURL string, cfg AgentConfig, seed int64, stats *AgentStats, global *SimulationResult, logger *zap.Logger) *peer {
	p := &peer{
		id:      id,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		stats:   stats,
		global:  global,
		logger:  logger.With(zap.String("peer", id)),
		channel: transport.NewChannel(wsURL, "", logger.Named(id)),
	}
	p.session = engine.NewSession(graph.NewStore(), sendCounter{p}, p.logger)
	p.actions = engine.NewActions(p.session, p, p)
	return p
}

// connect opens the channel and starts applying inbound events.
func (p *peer) connect(ctx context.Context) (<-chan error, error) {
	if err := p.channel.Open(ctx); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- p.channel.Run(ctx, func(ev protocol.Event) {
			atomic.AddUint64(&p.global.TotalReceived, 1)
			atomic.AddUint64(&p.stats.Received, 1)
			p.session.HandleInbound(ev)
		})
	}()
	return done, nil
}

func (p *peer) close() {
	_ = p.channel.Close()
}

// act runs one randomly chosen local action.
func (p *peer) act(ctx context.Context) {
	p.current = p.pick()
	p.pendingTo = ""

	var err error
	switch p.current {
	case actionAddNode:
		_, err = p.actions.AddNode(ctx)
	case actionRemoveNode:
		err = p.actions.RemoveNode(ctx)
	case actionAddEdge:
		err = p.actions.AddEdge(ctx)
	case actionRemoveEdge:
		err = p.actions.RemoveEdge(ctx)
	}

	if errors.Is(err, engine.ErrCancelled) || ctx.Err() != nil {
		// Interrupted by the end of the run.
		return
	}

	atomic.AddUint64(&p.global.TotalActions, 1)
	atomic.AddUint64(&p.stats.Actions, 1)
	switch {
	case err == nil:
		atomic.AddUint64(&p.global.TotalApplied, 1)
		atomic.AddUint64(&p.stats.Applied, 1)
	case engine.IsRejection(err):
		atomic.AddUint64(&p.global.TotalRejected, 1)
		atomic.AddUint64(&p.stats.Rejected, 1)
	default:
		atomic.AddUint64(&p.global.TotalErrors, 1)
		atomic.AddUint64(&p.stats.Errors, 1)
	}
}

func (p *peer) pick() actionKind {
	mix := p.cfg.Mix
	if mix.total() <= 0 {
		mix = DefaultMix
	}
	n := p.rng.Intn(mix.total())
	switch {
	case n < mix.AddNode:
		return actionAddNode
	case n < mix.AddNode+mix.RemoveNode:
		return actionRemoveNode
	case n < mix.AddNode+mix.RemoveNode+mix.AddEdge:
		return actionAddEdge
	default:
		return actionRemoveEdge
	}
}

// Prompt answers the action handlers' questions from the peer's own view of the graph.
func (p *peer) Prompt(ctx context.Context, question string) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	if p.cfg.InvalidRate > 0 && p.rng.Float64() < p.cfg.InvalidRate {
		return "not-a-number", true
	}

	switch question {
	case engine.PromptNodeLabel:
		if p.rng.Intn(4) == 0 {
			return "", true
		}
		return fmt.Sprintf("%s-%d", p.id, p.rng.Intn(1000)), true
	case engine.PromptPowerUsage:
		return strconv.FormatFloat(float64(p.rng.Intn(120)), 'f', -1, 64), true
	case engine.PromptPowerLimit:
		return "100", true
	case engine.PromptRemoveNode:
		return p.existingNode(), true
	case engine.PromptSourceNode:
		if p.current == actionRemoveEdge {
			if e, ok := p.existingEdge(); ok {
				p.pendingTo = strconv.Itoa(e.To)
				return strconv.Itoa(e.From), true
			}
		}
		return p.existingNode(), true
	case engine.PromptTargetNode:
		if p.pendingTo != "" {
			return p.pendingTo, true
		}
		return p.existingNode(), true
	case engine.PromptEdgeLabel:
		return fmt.Sprintf("e%d", p.rng.Intn(100)), true
	}
	return "", true
}

// Alert is a no-op; rejections are counted from the returned error.
func (p *peer) Alert(ctx context.Context, message string) {
	p.logger.Debug("alert", zap.String("message", message))
}

func (p *peer) existingNode() string {
	g := p.session.Snapshot()
	if len(g.Nodes) == 0 {
		return strconv.Itoa(p.rng.Intn(10) + 1)
	}
	return strconv.Itoa(g.Nodes[p.rng.Intn(len(g.Nodes))].ID)
}

func (p *peer) existingEdge() (graph.Edge, bool) {
	edges := p.session.Snapshot().VisibleEdges()
	if len(edges) == 0 {
		return graph.Edge{}, false
	}
	return edges[p.rng.Intn(len(edges))], true
}

// sendCounter counts send failures on the way to the channel.
type sendCounter struct {
	p *peer
}

func (s sendCounter) Send(ev protocol.Event) error {
	err := s.p.channel.Send(ev)
	if err != nil {
		atomic.AddUint64(&s.p.global.TotalSendFailures, 1)
		atomic.AddUint64(&s.p.stats.SendFailures, 1)
	}
	return err
}
