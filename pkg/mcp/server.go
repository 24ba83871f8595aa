package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/graphsync/pkg/client"
	"github.com/rmax-ai/graphsync/pkg/protocol"
)

const (
	graphURI  = "graphsync://graph"
	eventsURI = "graphsync://events"
)

// Server adapts the graphsync relay to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"graphsync",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		graphURI,
		"Graph Snapshot",
		mcp.WithResourceDescription("Nodes and edges currently held by the relay, with node colors"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadGraph)

	s.mcpServer.AddResource(mcp.NewResource(
		eventsURI,
		"Relay Event Journal",
		mcp.WithResourceDescription("Most recent events relayed between peers, newest first"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadEvents)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"apply_event",
		mcp.WithDescription("Send one raw graph event ({\"type\":...,\"payload\":...}) to every connected peer."),
		mcp.WithString("event", mcp.Required(), mcp.Description("The event as a JSON object")),
	), s.handleApplyEvent)

	s.mcpServer.AddTool(mcp.NewTool(
		"add_node",
		mcp.WithDescription("Add or replace a node. Color is derived from power usage vs. limit."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Node id")),
		mcp.WithString("label", mcp.Description("Display label (default 'Node <id>')")),
		mcp.WithNumber("power_usage", mcp.Description("Current power usage (default 0)")),
		mcp.WithNumber("power_limit", mcp.Description("Power limit (default 1)")),
	), s.handleAddNode)

	s.mcpServer.AddTool(mcp.NewTool(
		"remove_node",
		mcp.WithDescription("Remove a node by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Node id")),
	), s.handleRemoveNode)

	s.mcpServer.AddTool(mcp.NewTool(
		"add_edge",
		mcp.WithDescription("Connect two existing nodes."),
		mcp.WithNumber("from", mcp.Required(), mcp.Description("Source node id")),
		mcp.WithNumber("to", mcp.Required(), mcp.Description("Target node id")),
		mcp.WithString("label", mcp.Description("Edge label")),
	), s.handleAddEdge)

	s.mcpServer.AddTool(mcp.NewTool(
		"remove_edge",
		mcp.WithDescription("Remove the first edge from one node to another."),
		mcp.WithNumber("from", mcp.Required(), mcp.Description("Source node id")),
		mcp.WithNumber("to", mcp.Required(), mcp.Description("Target node id")),
	), s.handleRemoveEdge)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"graphsync-aware",
		mcp.WithPromptDescription("Provides context about graphsync concepts (nodes, edges, colors, events)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadGraph(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	g, err := s.apiClient.GetGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph: %w", err)
	}
	return jsonContents(request.Params.URI, g)
}

func (s *Server) handleReadEvents(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	entries, err := s.apiClient.GetEvents(ctx, client.EventsOptions{Limit: 50})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return jsonContents(request.Params.URI, entries)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleApplyEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev, err := protocol.Decode([]byte(mcp.ParseString(request, "event", "")))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid event: %v", err)), nil
	}
	if !ev.Type.Known() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown event type %q", ev.Type)), nil
	}
	return s.send(ctx, ev)
}

func (s *Server) handleAddNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := parseID(request, "id")
	if !ok {
		return mcp.NewToolResultError("id must be an integer"), nil
	}
	label := mcp.ParseString(request, "label", "")
	if label == "" {
		label = fmt.Sprintf("Node %d", id)
	}
	return s.send(ctx, protocol.AddNode(protocol.AddNodePayload{
		ID:         id,
		Label:      label,
		PowerUsage: mcp.ParseFloat64(request, "power_usage", 0),
		PowerLimit: mcp.ParseFloat64(request, "power_limit", 1),
	}))
}

func (s *Server) handleRemoveNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := parseID(request, "id")
	if !ok {
		return mcp.NewToolResultError("id must be an integer"), nil
	}
	return s.send(ctx, protocol.RemoveNode(id))
}

func (s *Server) handleAddEdge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, okFrom := parseID(request, "from")
	to, okTo := parseID(request, "to")
	if !okFrom || !okTo {
		return mcp.NewToolResultError("from and to must be integers"), nil
	}
	return s.send(ctx, protocol.AddEdge(protocol.AddEdgePayload{
		From:  from,
		To:    to,
		Label: mcp.ParseString(request, "label", ""),
	}))
}

func (s *Server) handleRemoveEdge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, okFrom := parseID(request, "from")
	to, okTo := parseID(request, "to")
	if !okFrom || !okTo {
		return mcp.NewToolResultError("from and to must be integers"), nil
	}
	return s.send(ctx, protocol.RemoveEdge(from, to))
}

func (s *Server) send(ctx context.Context, ev protocol.Event) (*mcp.CallToolResult, error) {
	if err := s.apiClient.SendEvent(ctx, ev); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sent %s %s", ev.Type, ev.Payload)), nil
}

// parseID reads a numeric argument that must hold a whole number.
func parseID(request mcp.CallToolRequest, key string) (int, bool) {
	v := mcp.ParseFloat64(request, key, math.NaN())
	if math.IsNaN(v) || v != math.Trunc(v) {
		return 0, false
	}
	return int(v), true
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "graphsync-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with graphsync, a node/edge graph shared live between peers.

Concepts:
- Node: has an integer id, a label, a power usage and a power limit.
- Color: green below 50% of the limit, yellow below 80%, red otherwise. A limit of 0 is green.
- Edge: a directed, labelled link between two existing nodes. Duplicates are allowed.
- Event: ADD_NODE, REMOVE_NODE, ADD_EDGE or REMOVE_EDGE, relayed to every connected peer.

Read graphsync://graph before changing anything. Peers reject edges whose endpoints
do not exist and removals that match nothing, without telling the sender.
`

	return mcp.NewGetPromptResult(
		"graphsync-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
