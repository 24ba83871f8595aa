package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/graphsync/pkg/engine"
	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
	"github.com/rmax-ai/graphsync/pkg/transport"
)

type fakeLink struct {
	openErr error
	inbound []protocol.Event
}

func (f *fakeLink) Open(ctx context.Context) error { return f.openErr }

func (f *fakeLink) Run(ctx context.Context, h transport.Handler) error {
	for _, ev := range f.inbound {
		h(ev)
	}
	return nil
}

func (f *fakeLink) Close() error { return nil }

type harness struct {
	t       *testing.T
	m       model
	session *engine.Session
	msgs    chan tea.Msg
	done    chan tea.Msg
}

func newHarness(t *testing.T, link peerLink) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	msgs := make(chan tea.Msg, 16)
	bridge := &uiBridge{send: func(msg tea.Msg) { msgs <- msg }}
	session := engine.NewSession(graph.NewStore(), nil, nil)
	actions := engine.NewActions(session, bridge, bridge)

	return &harness{
		t:       t,
		m:       newModel(ctx, session, actions, link, "ws://peer.test/ws"),
		session: session,
		msgs:    msgs,
		done:    make(chan tea.Msg, 1),
	}
}

func (h *harness) update(msg tea.Msg) tea.Cmd {
	h.t.Helper()
	next, cmd := h.m.Update(msg)
	m, ok := next.(model)
	require.True(h.t, ok)
	h.m = m
	return cmd
}

func (h *harness) press(key string) tea.Cmd {
	h.t.Helper()
	switch key {
	case "enter":
		return h.update(tea.KeyMsg{Type: tea.KeyEnter})
	case "esc":
		return h.update(tea.KeyMsg{Type: tea.KeyEsc})
	default:
		return h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	}
}

// startAction presses key and runs the resulting action command in the background.
func (h *harness) startAction(key string) {
	h.t.Helper()
	cmd := h.press(key)
	require.NotNil(h.t, cmd)
	go func() { h.done <- cmd() }()
}

// next waits for the action goroutine to ask the UI something and feeds it to the model.
func (h *harness) next() tea.Msg {
	h.t.Helper()
	select {
	case msg := <-h.msgs:
		h.update(msg)
		return msg
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for the action")
		return nil
	}
}

// reply types text into the open prompt and confirms it.
func (h *harness) reply(text string) {
	h.t.Helper()
	require.NotNil(h.t, h.m.prompt)
	h.m.input.SetValue(text)
	h.press("enter")
}

func (h *harness) answer(text string) {
	h.t.Helper()
	msg := h.next()
	require.IsType(h.t, promptMsg{}, msg)
	h.reply(text)
}

func (h *harness) finish() actionDoneMsg {
	h.t.Helper()
	select {
	case msg := <-h.done:
		h.update(msg)
		done, ok := msg.(actionDoneMsg)
		require.True(h.t, ok)
		return done
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for the action to finish")
		return actionDoneMsg{}
	}
}

func TestModel_AddNode(t *testing.T) {
	h := newHarness(t, &fakeLink{})

	h.startAction("n")
	assert.Equal(t, actionAddNode, h.m.busy)

	h.next()
	assert.Contains(t, h.m.View(), engine.PromptNodeLabel)
	h.reply("Pump")
	assert.NotContains(t, h.m.View(), engine.PromptNodeLabel)

	h.next()
	assert.Contains(t, h.m.View(), engine.PromptPowerUsage)
	h.reply("9")
	h.answer("10")

	done := h.finish()
	require.NoError(t, done.err)
	assert.Empty(t, h.m.busy)
	assert.Contains(t, h.m.status, "done")

	n, ok := h.session.Snapshot().NodeByID(1)
	require.True(t, ok)
	assert.Equal(t, "Pump", n.Label)
	assert.Equal(t, graph.ColorRed, n.Color)
	assert.Contains(t, h.m.View(), "Pump")
}

func TestModel_CancelledPrompt(t *testing.T) {
	h := newHarness(t, &fakeLink{})

	h.startAction("d")
	msg := h.next()
	require.IsType(t, promptMsg{}, msg)
	h.press("esc")

	done := h.finish()
	assert.ErrorIs(t, done.err, engine.ErrCancelled)
	assert.Contains(t, h.m.status, "cancelled")
	assert.Nil(t, h.m.prompt)
}

func TestModel_InvalidInputShowsAlert(t *testing.T) {
	h := newHarness(t, &fakeLink{})

	h.startAction("d")
	h.answer("abc")

	msg := h.next()
	require.IsType(t, alertMsg{}, msg)
	assert.Contains(t, h.m.View(), engine.AlertInvalidNode)

	// Action keys are ignored while the alert is up.
	assert.Nil(t, h.press("n"))
	h.press("enter")
	assert.Nil(t, h.m.alert)

	done := h.finish()
	assert.True(t, engine.IsRejection(done.err))
	assert.Contains(t, h.m.status, "rejected")
}

func TestModel_OneActionAtATime(t *testing.T) {
	h := newHarness(t, &fakeLink{})

	h.startAction("e")
	assert.Equal(t, actionAddEdge, h.m.busy)
	h.next()

	// While the prompt is open keys go to the input, not to a new action.
	assert.Equal(t, actionAddEdge, h.m.busy)
	h.press("esc")
	h.finish()

	h.m.prompt = nil
	h.m.busy = actionRemoveEdge
	assert.Nil(t, h.press("n"))
}

func TestModel_Connection(t *testing.T) {
	t.Run("open failure", func(t *testing.T) {
		h := newHarness(t, &fakeLink{openErr: errors.New("dial refused")})

		msg := h.m.Init()()
		assert.Nil(t, h.update(msg))
		assert.Equal(t, connDisconnected, h.m.conn)
		assert.Contains(t, h.m.View(), "dial refused")
	})

	t.Run("inbound events", func(t *testing.T) {
		link := &fakeLink{inbound: []protocol.Event{
			protocol.AddNode(protocol.AddNodePayload{ID: 7, Label: "remote", PowerUsage: 1, PowerLimit: 4}),
			protocol.AddEdge(protocol.AddEdgePayload{From: 5, To: 6}),
		}}
		h := newHarness(t, link)

		listen := h.update(h.m.Init()())
		require.NotNil(t, listen)
		assert.Equal(t, connConnected, h.m.conn)
		assert.Contains(t, h.m.View(), "Connected")

		h.update(listen())
		assert.Equal(t, connDisconnected, h.m.conn)

		h.update(graphChangedMsg{})
		g := h.m.graph
		require.Len(t, g.Nodes, 1)
		assert.Empty(t, g.Edges)
	})
}

func TestRenderGraph(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: 1, Label: "A", PowerUsage: 1, PowerLimit: 10, Color: graph.ColorGreen},
			{ID: 2, Label: "B", PowerUsage: 9, PowerLimit: 10, Color: graph.ColorRed},
		},
		Edges: []graph.Edge{
			{Seq: 1, From: 1, To: 2, Label: "link"},
			{Seq: 2, From: 2, To: 3},
		},
	}

	out := renderGraph(g)
	assert.Contains(t, out, "Nodes (2)")
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "1 → 2")
	assert.Contains(t, out, "link")
	assert.Contains(t, out, "Edges (1)")
	assert.NotContains(t, out, "2 → 3")

	empty := renderGraph(&graph.Graph{})
	assert.True(t, strings.Contains(empty, "No nodes yet"))
}
