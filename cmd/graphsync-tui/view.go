package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/graphsync/pkg/graph"
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	labelStyle  = lipgloss.NewStyle().Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	promptStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	alertStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("196")).
			Foreground(lipgloss.Color("196")).
			Bold(true).
			Padding(0, 1)
)

func (m model) View() string {
	var status string
	switch m.conn {
	case connConnected:
		status = okStyle.Render("Connected")
	case connDisconnected:
		if m.connErr != nil {
			status = errorStyle.Render(fmt.Sprintf("Disconnected: %v", m.connErr))
		} else {
			status = errorStyle.Render("Disconnected")
		}
	default:
		status = subtleStyle.Render("Connecting...")
	}
	header := headerStyle.Render(fmt.Sprintf("graphsync • %s • %s", m.peerURL, status))

	var body string
	if m.ready {
		body = m.viewport.View()
	} else {
		body = renderGraph(m.graph)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.footer())
}

func (m model) footer() string {
	switch {
	case m.alert != nil:
		return alertStyle.Render(m.alert.message) + "\n" + subtleStyle.Render("enter to dismiss")
	case m.prompt != nil:
		return promptStyle.Render(m.prompt.question+"\n"+m.input.View()) + "\n" + subtleStyle.Render("enter to confirm • esc to cancel")
	}

	help := "n add node • d remove node • e add edge • r remove edge • q quit"
	line := subtleStyle.Render(help)
	if m.busy != "" {
		line = subtleStyle.Render(m.busy + "...")
	}
	if m.status != "" {
		line += "\n" + m.status
	}
	return line
}

// renderGraph lists nodes with their color and the edges whose endpoints both exist.
func renderGraph(g *graph.Graph) string {
	var sb strings.Builder

	sb.WriteString(sectionStyle.Render(fmt.Sprintf("Nodes (%d)", len(g.Nodes))) + "\n")
	if len(g.Nodes) == 0 {
		sb.WriteString(subtleStyle.Render("No nodes yet. Press n to add one.") + "\n")
	}
	for _, n := range g.Nodes {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(n.Color.Hex())).Render("●")
		sb.WriteString(fmt.Sprintf("%s %-4d %s  %s\n",
			dot,
			n.ID,
			labelStyle.Render(n.Label),
			subtleStyle.Render(fmt.Sprintf("%g / %g", n.PowerUsage, n.PowerLimit)),
		))
	}

	edges := g.VisibleEdges()
	sb.WriteString("\n" + sectionStyle.Render(fmt.Sprintf("Edges (%d)", len(edges))) + "\n")
	if len(edges) == 0 {
		sb.WriteString(subtleStyle.Render("No edges.") + "\n")
	}
	for _, e := range edges {
		line := fmt.Sprintf("%d → %d", e.From, e.To)
		if e.Label != "" {
			line += "  " + e.Label
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}
