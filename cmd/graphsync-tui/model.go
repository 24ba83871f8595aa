package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rmax-ai/graphsync/pkg/engine"
	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/transport"
)

const (
	actionAddNode    = "Add Node"
	actionRemoveNode = "Remove Node"
	actionAddEdge    = "Add Edge"
	actionRemoveEdge = "Remove Edge"

	chromeHeight = 7
)

// peerLink is the part of transport.Channel the UI drives.
type peerLink interface {
	Open(ctx context.Context) error
	Run(ctx context.Context, h transport.Handler) error
	Close() error
}

type connState int

const (
	connConnecting connState = iota
	connConnected
	connDisconnected
)

type connectedMsg struct{ err error }

type disconnectedMsg struct{ err error }

// graphChangedMsg is sent by the session after every applied mutation.
type graphChangedMsg struct{}

type actionDoneMsg struct {
	action string
	err    error
}

type model struct {
	ctx     context.Context
	session *engine.Session
	actions *engine.Actions
	link    peerLink
	peerURL string

	graph   *graph.Graph
	conn    connState
	connErr error

	busy   string
	prompt *promptMsg
	alert  *alertMsg
	status string

	input    textinput.Model
	viewport viewport.Model
	ready    bool
}

func newModel(ctx context.Context, session *engine.Session, actions *engine.Actions, link peerLink, peerURL string) model {
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 40

	return model{
		ctx:      ctx,
		session:  session,
		actions:  actions,
		link:     link,
		peerURL:  peerURL,
		graph:    session.Snapshot(),
		input:    ti,
		viewport: viewport.New(80, 20),
	}
}

func (m model) Init() tea.Cmd {
	return m.connect()
}

// connect opens the channel to the peer once. There is no reconnect.
func (m model) connect() tea.Cmd {
	ctx, link := m.ctx, m.link
	return func() tea.Msg {
		return connectedMsg{err: link.Open(ctx)}
	}
}

// listen applies inbound events until the channel closes.
func (m model) listen() tea.Cmd {
	ctx, link, session := m.ctx, m.link, m.session
	return func() tea.Msg {
		return disconnectedMsg{err: link.Run(ctx, session.HandleInbound)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 3)
		m.ready = true
		m.refresh()

	case connectedMsg:
		if msg.err != nil {
			m.conn = connDisconnected
			m.connErr = msg.err
			return m, nil
		}
		m.conn = connConnected
		return m, m.listen()

	case disconnectedMsg:
		m.conn = connDisconnected
		m.connErr = msg.err

	case graphChangedMsg:
		m.refresh()

	case promptMsg:
		m.prompt = &msg
		m.input.Reset()
		m.input.Placeholder = ""
		return m, m.input.Focus()

	case alertMsg:
		m.alert = &msg

	case actionDoneMsg:
		m.busy = ""
		m.status = describeResult(msg.action, msg.err)
		m.refresh()
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		m.dismiss()
		return m, tea.Quit
	}

	// An alert blocks everything until acknowledged.
	if m.alert != nil {
		switch key {
		case "enter", "esc", " ":
			close(m.alert.ack)
			m.alert = nil
		}
		return m, nil
	}

	if m.prompt != nil {
		switch key {
		case "enter":
			m.prompt.reply <- promptReply{answer: m.input.Value(), ok: true}
			m.prompt = nil
			m.input.Blur()
			return m, nil
		case "esc":
			m.prompt.reply <- promptReply{ok: false}
			m.prompt = nil
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key {
	case "q":
		return m, tea.Quit
	case "n":
		return m.start(actionAddNode)
	case "d":
		return m.start(actionRemoveNode)
	case "e":
		return m.start(actionAddEdge)
	case "r":
		return m.start(actionRemoveEdge)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// start runs one action on its own goroutine; its prompts come back as messages.
func (m model) start(action string) (tea.Model, tea.Cmd) {
	if m.busy != "" {
		return m, nil
	}
	m.busy = action
	m.status = ""
	ctx, a := m.ctx, m.actions
	return m, func() tea.Msg {
		var err error
		switch action {
		case actionAddNode:
			_, err = a.AddNode(ctx)
		case actionRemoveNode:
			err = a.RemoveNode(ctx)
		case actionAddEdge:
			err = a.AddEdge(ctx)
		case actionRemoveEdge:
			err = a.RemoveEdge(ctx)
		}
		return actionDoneMsg{action: action, err: err}
	}
}

// dismiss releases an action blocked on the UI.
func (m *model) dismiss() {
	if m.prompt != nil {
		m.prompt.reply <- promptReply{ok: false}
		m.prompt = nil
	}
	if m.alert != nil {
		close(m.alert.ack)
		m.alert = nil
	}
}

func (m *model) refresh() {
	m.graph = m.session.Snapshot()
	m.viewport.SetContent(renderGraph(m.graph))
}

func describeResult(action string, err error) string {
	switch {
	case err == nil:
		return action + ": done"
	case errors.Is(err, engine.ErrCancelled):
		return action + ": cancelled"
	case engine.IsRejection(err):
		return action + ": rejected"
	default:
		return fmt.Sprintf("%s: %v", action, err)
	}
}
