package simulation

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/engine"
	"github.com/rmax-ai/graphsync/pkg/protocol"
)

func detachedPeer(cfg AgentConfig) *peer {
	return newPeer("p", "ws://127.0.0.1:1/ws", cfg, 7, &AgentStats{}, &SimulationResult{}, zap.NewNop())
}

func TestPeer_RemoveEdgeAnswersMatchAnEdge(t *testing.T) {
	p := detachedPeer(AgentConfig{})
	p.session.HandleInbound(protocol.AddNode(protocol.AddNodePayload{ID: 1, Label: "A", PowerLimit: 1}))
	p.session.HandleInbound(protocol.AddNode(protocol.AddNodePayload{ID: 2, Label: "B", PowerLimit: 1}))
	p.session.HandleInbound(protocol.AddEdge(protocol.AddEdgePayload{From: 2, To: 1, Label: "e"}))

	p.current = actionRemoveEdge
	from, ok := p.Prompt(context.Background(), engine.PromptSourceNode)
	require.True(t, ok)
	to, ok := p.Prompt(context.Background(), engine.PromptTargetNode)
	require.True(t, ok)

	assert.Equal(t, "2", from)
	assert.Equal(t, "1", to)
}

func TestPeer_ActCountsOutcomes(t *testing.T) {
	p := detachedPeer(AgentConfig{Mix: ActionMix{AddNode: 1}})

	p.act(context.Background())
	p.act(context.Background())

	assert.Equal(t, uint64(2), p.stats.Applied)
	// The channel was never opened, so every send fails.
	assert.Equal(t, uint64(2), p.stats.SendFailures)
	assert.Len(t, p.session.Snapshot().Nodes, 2)
}

func TestPeer_InvalidAnswersAreRejected(t *testing.T) {
	p := detachedPeer(AgentConfig{Mix: ActionMix{RemoveNode: 1}, InvalidRate: 1})

	p.act(context.Background())

	assert.Equal(t, uint64(1), p.stats.Actions)
	assert.Equal(t, uint64(1), p.stats.Rejected)
	assert.Zero(t, p.stats.Applied)
}

func TestPeer_CancelledContextIsNotCounted(t *testing.T) {
	p := detachedPeer(AgentConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.act(ctx)

	assert.Zero(t, p.stats.Actions)
}

func TestPeer_ExistingNodeFallsBackToSmallIDs(t *testing.T) {
	p := detachedPeer(AgentConfig{})
	id, err := strconv.Atoi(p.existingNode())
	require.NoError(t, err)
	assert.True(t, id >= 1 && id <= 10)
}
