package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rmax-ai/graphsync/pkg/protocol"
)

func TestMCPServer_ReadGraph(t *testing.T) {
	// 1. Mock API Server
	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/graph" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"nodes":[{"id":1,"label":"A","powerUsage":90,"powerLimit":100,"color":"red"}],"edges":[]}`))
			return
		}
		http.NotFound(w, r)
	})
	ts := httptest.NewServer(apiHandler)
	defer ts.Close()

	// 2. Create MCP Server
	s := NewServer(ts.URL)

	// 3. Test Handler directly
	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: graphURI,
		},
	}

	result, err := s.handleReadGraph(context.Background(), req)
	if err != nil {
		t.Fatalf("handleReadGraph failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("Expected 1 resource content, got %d", len(result))
	}

	content, ok := result[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("Expected TextResourceContents")
	}
	if content.MIMEType != "application/json" {
		t.Errorf("Expected application/json, got %s", content.MIMEType)
	}

	var g struct {
		Nodes []map[string]interface{} `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(content.Text), &g); err != nil {
		t.Errorf("Failed to parse result JSON: %v", err)
	}
	if len(g.Nodes) != 1 || g.Nodes[0]["color"] != "red" {
		t.Errorf("Unexpected nodes: %v", g.Nodes)
	}
}

func TestMCPServer_ReadEvents_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"journal_not_available"}`, http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	s := NewServer(ts.URL)
	_, err := s.handleReadEvents(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: eventsURI},
	})
	if err == nil {
		t.Fatal("Expected error when the journal is unavailable")
	}
}

// eventLog records events posted to /v1/events.
type eventLog struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (l *eventLog) all() []protocol.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Event(nil), l.events...)
}

func captureAPI(t *testing.T) (*httptest.Server, *eventLog) {
	t.Helper()
	log := &eventLog{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/events" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		ev, err := protocol.Decode(body)
		if err != nil {
			http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
			return
		}
		log.mu.Lock()
		log.events = append(log.events, ev)
		log.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	return ts, log
}

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPServer_AddNode(t *testing.T) {
	ts, log := captureAPI(t)
	defer ts.Close()
	s := NewServer(ts.URL)

	result, err := s.handleAddNode(context.Background(), callTool("add_node", map[string]interface{}{
		"id":          float64(4),
		"power_usage": float64(60),
		"power_limit": float64(100),
	}))
	if err != nil {
		t.Fatalf("handleAddNode failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got error: %+v", result.Content)
	}
	if len(log.all()) != 1 {
		t.Fatalf("Expected 1 posted event, got %d", len(log.all()))
	}

	var p protocol.AddNodePayload
	if err := log.all()[0].DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	if p.ID != 4 || p.Label != "Node 4" || p.PowerUsage != 60 || p.PowerLimit != 100 {
		t.Errorf("Unexpected payload: %+v", p)
	}
}

func TestMCPServer_EdgeTools(t *testing.T) {
	ts, log := captureAPI(t)
	defer ts.Close()
	s := NewServer(ts.URL)

	args := map[string]interface{}{"from": float64(1), "to": float64(2), "label": "link"}
	if res, _ := s.handleAddEdge(context.Background(), callTool("add_edge", args)); res.IsError {
		t.Fatalf("add_edge failed: %+v", res.Content)
	}
	if res, _ := s.handleRemoveEdge(context.Background(), callTool("remove_edge", args)); res.IsError {
		t.Fatalf("remove_edge failed: %+v", res.Content)
	}
	if res, _ := s.handleRemoveNode(context.Background(), callTool("remove_node", map[string]interface{}{"id": float64(2)})); res.IsError {
		t.Fatalf("remove_node failed: %+v", res.Content)
	}

	want := []protocol.EventType{protocol.EventTypeAddEdge, protocol.EventTypeRemoveEdge, protocol.EventTypeRemoveNode}
	if len(log.all()) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(log.all()))
	}
	for i, ev := range log.all() {
		if ev.Type != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.Type)
		}
	}
}

func TestMCPServer_InvalidArguments(t *testing.T) {
	ts, log := captureAPI(t)
	defer ts.Close()
	s := NewServer(ts.URL)

	tests := []struct {
		name string
		call func() (*mcp.CallToolResult, error)
	}{
		{"missing id", func() (*mcp.CallToolResult, error) {
			return s.handleRemoveNode(context.Background(), callTool("remove_node", map[string]interface{}{}))
		}},
		{"fractional id", func() (*mcp.CallToolResult, error) {
			return s.handleAddNode(context.Background(), callTool("add_node", map[string]interface{}{"id": 1.5}))
		}},
		{"missing to", func() (*mcp.CallToolResult, error) {
			return s.handleAddEdge(context.Background(), callTool("add_edge", map[string]interface{}{"from": float64(1)}))
		}},
		{"bad event json", func() (*mcp.CallToolResult, error) {
			return s.handleApplyEvent(context.Background(), callTool("apply_event", map[string]interface{}{"event": "{"}))
		}},
		{"unknown event type", func() (*mcp.CallToolResult, error) {
			return s.handleApplyEvent(context.Background(), callTool("apply_event", map[string]interface{}{"event": `{"type":"MOVE_NODE","payload":{}}`}))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.call()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Error("Expected tool error result")
			}
		})
	}
	if len(log.all()) != 0 {
		t.Errorf("Expected no events posted, got %d", len(log.all()))
	}
}

func TestMCPServer_ApplyEvent(t *testing.T) {
	ts, log := captureAPI(t)
	defer ts.Close()
	s := NewServer(ts.URL)

	result, err := s.handleApplyEvent(context.Background(), callTool("apply_event", map[string]interface{}{
		"event": `{"type":"REMOVE_EDGE","payload":{"from":1,"to":2}}`,
	}))
	if err != nil {
		t.Fatalf("handleApplyEvent failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got error")
	}
	if len(log.all()) != 1 || log.all()[0].Type != protocol.EventTypeRemoveEdge {
		t.Errorf("Unexpected posted events: %+v", log.all())
	}
}

func TestMCPServer_Prompt(t *testing.T) {
	s := NewServer("")
	req := mcp.GetPromptRequest{Params: mcp.GetPromptParams{Name: "graphsync-aware"}}
	result, err := s.handleGetPrompt(context.Background(), req)
	if err != nil {
		t.Fatalf("handleGetPrompt failed: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Errorf("Expected 1 prompt message, got %d", len(result.Messages))
	}

	req.Params.Name = "other"
	if _, err := s.handleGetPrompt(context.Background(), req); err == nil {
		t.Error("Expected error for unknown prompt")
	}
}
