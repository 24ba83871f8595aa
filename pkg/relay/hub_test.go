package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
	"github.com/rmax-ai/graphsync/pkg/store"
	busredis "github.com/rmax-ai/graphsync/pkg/store/redis"
	"github.com/rmax-ai/graphsync/pkg/transport"
)

type memJournal struct {
	mu      sync.Mutex
	entries []store.Entry
}

func (j *memJournal) AppendEntry(_ context.Context, e *store.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *e)
	return nil
}

func (j *memJournal) snapshot() []store.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]store.Entry(nil), j.entries...)
}

type fakeBus struct {
	mu        sync.Mutex
	published []string
	inbound   chan busredis.Message
}

func (b *fakeBus) Publish(_ context.Context, _ string, event []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, string(event))
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, fn func(busredis.Message)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-b.inbound:
			fn(m)
		}
	}
}

type testPeer struct {
	ch     *transport.Channel
	events chan protocol.Event
}

func connectPeer(t *testing.T, srv *httptest.Server, hub *Hub, want int) *testPeer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	p := &testPeer{
		ch:     transport.NewChannel(url, "", nil),
		events: make(chan protocol.Event, 16),
	}
	require.NoError(t, p.ch.Open(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.ch.Run(ctx, func(ev protocol.Event) { p.events <- ev }) }()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool { return hub.PeerCount() == want }, 2*time.Second, 5*time.Millisecond)
	return p
}

func expectEvent(t *testing.T, p *testPeer) protocol.Event {
	t.Helper()
	select {
	case ev := <-p.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed event")
		return protocol.Event{}
	}
}

func expectNoEvent(t *testing.T, p *testPeer) {
	t.Helper()
	select {
	case ev := <-p.events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RelaysToOtherPeers(t *testing.T) {
	hub := NewHub(graph.NewStore(), nil)
	journal := &memJournal{}
	hub.SetJournal(journal)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	a := connectPeer(t, srv, hub, 1)
	b := connectPeer(t, srv, hub, 2)

	require.NoError(t, a.ch.Send(protocol.AddNode(protocol.AddNodePayload{ID: 1, Label: "A", PowerUsage: 90, PowerLimit: 100})))

	ev := expectEvent(t, b)
	assert.Equal(t, protocol.EventTypeAddNode, ev.Type)
	expectNoEvent(t, a)

	require.Eventually(t, func() bool { return len(hub.Graph().Nodes) == 1 }, 2*time.Second, 5*time.Millisecond)
	n, _ := hub.Graph().NodeByID(1)
	assert.Equal(t, graph.ColorRed, n.Color)
	require.Eventually(t, func() bool { return len(journal.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// rejected by the relay graph but still relayed
	require.NoError(t, b.ch.Send(protocol.AddEdge(protocol.AddEdgePayload{From: 5, To: 6, Label: "x"})))
	ev = expectEvent(t, a)
	assert.Equal(t, protocol.EventTypeAddEdge, ev.Type)

	require.Eventually(t, func() bool { return len(journal.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	entries := journal.snapshot()
	assert.Equal(t, "applied", entries[0].Outcome)
	assert.Equal(t, "rejected", entries[1].Outcome)
	assert.Equal(t, store.OriginPeer, entries[1].Origin)
	assert.Empty(t, hub.Graph().Edges)
}

func TestHub_InjectAndBus(t *testing.T) {
	hub := NewHub(graph.NewStore(), nil)
	bus := &fakeBus{inbound: make(chan busredis.Message, 1)}
	hub.SetBus(bus)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	a := connectPeer(t, srv, hub, 1)

	require.NoError(t, hub.Inject(context.Background(), protocol.RemoveNode(3)))
	assert.Equal(t, protocol.EventTypeRemoveNode, expectEvent(t, a).Type)

	bus.mu.Lock()
	assert.Len(t, bus.published, 1)
	bus.mu.Unlock()

	bus.inbound <- busredis.Message{InstanceID: "other", PeerID: "p", Event: []byte(`{"type":"ADD_NODE","payload":{"id":8,"label":"remote","powerUsage":0,"powerLimit":0}}`)}
	ev := expectEvent(t, a)
	assert.Equal(t, protocol.EventTypeAddNode, ev.Type)
	require.Eventually(t, func() bool { _, ok := hub.Graph().NodeByID(8); return ok }, 2*time.Second, 5*time.Millisecond)

	bus.mu.Lock()
	assert.Len(t, bus.published, 1, "bus messages are not republished")
	bus.mu.Unlock()
}

func TestHub_CloseDisconnectsPeers(t *testing.T) {
	hub := NewHub(graph.NewStore(), nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	a := connectPeer(t, srv, hub, 1)
	hub.Close()

	assert.Equal(t, 0, hub.PeerCount())
	require.Eventually(t, func() bool { return !a.ch.Connected() }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, hub.Inject(context.Background(), protocol.RemoveNode(1)), ErrClosed)
}

func TestHub_DeliverOrderMatchesRelayGraph(t *testing.T) {
	addNode := protocol.AddNode(protocol.AddNodePayload{ID: 3, Label: "C", PowerLimit: 1})
	addEdge := protocol.AddEdge(protocol.AddEdgePayload{From: 1, To: 3, Label: "x"})
	nodeRaw, err := protocol.Encode(addNode)
	require.NoError(t, err)
	edgeRaw, err := protocol.Encode(addEdge)
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		hub := NewHub(graph.NewStore(), nil)
		hub.deliver(context.Background(), "seed", store.OriginAPI,
			protocol.AddNode(protocol.AddNodePayload{ID: 1, Label: "A", PowerLimit: 1}), "seed")
		p, ok := hub.register()
		require.True(t, ok)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.deliver(context.Background(), "a", store.OriginPeer, addNode, string(nodeRaw))
		}()
		go func() {
			defer wg.Done()
			hub.deliver(context.Background(), "b", store.OriginPeer, addEdge, string(edgeRaw))
		}()
		wg.Wait()

		first := <-p.out
		hasEdge := len(hub.Graph().VisibleEdges()) == 1
		if first == string(nodeRaw) {
			require.True(t, hasEdge, "run %d: peer saw the node first but the relay rejected the edge", i)
		} else {
			require.False(t, hasEdge, "run %d: peer saw the edge first but the relay applied it", i)
		}
		hub.Close()
	}
}
