// Package protocol defines the graph mutation events exchanged between peers.
// Each websocket message carries exactly one JSON-encoded Event.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags the kind of graph mutation.
type EventType string

const (
	EventTypeAddNode    EventType = "ADD_NODE"
	EventTypeRemoveNode EventType = "REMOVE_NODE"
	EventTypeAddEdge    EventType = "ADD_EDGE"
	EventTypeRemoveEdge EventType = "REMOVE_EDGE"
)

// Known reports whether t is one of the four mutation types.
func (t EventType) Known() bool {
	switch t {
	case EventTypeAddNode, EventTypeRemoveNode, EventTypeAddEdge, EventTypeRemoveEdge:
		return true
	}
	return false
}

// Event is the wire envelope for a single graph mutation.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AddNodePayload is the payload of ADD_NODE.
type AddNodePayload struct {
	ID         int     `json:"id"`
	Label      string  `json:"label"`
	PowerUsage float64 `json:"powerUsage"`
	PowerLimit float64 `json:"powerLimit"`
}

// RemoveNodePayload is the payload of REMOVE_NODE.
type RemoveNodePayload struct {
	ID int `json:"id"`
}

// AddEdgePayload is the payload of ADD_EDGE.
type AddEdgePayload struct {
	From  int    `json:"from"`
	To    int    `json:"to"`
	Label string `json:"label"`
}

// RemoveEdgePayload is the payload of REMOVE_EDGE.
type RemoveEdgePayload struct {
	From int `json:"from"`
	To   int `json:"to"`
}

var (
	// ErrEmptyMessage is returned when decoding a blank message.
	ErrEmptyMessage = errors.New("empty message")
	// ErrMissingPayload is returned when an event has no payload or a null one.
	ErrMissingPayload = errors.New("missing payload")
)

// New builds an event from a typed payload.
func New(t EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: raw}, nil
}

// AddNode builds an ADD_NODE event.
func AddNode(p AddNodePayload) Event { return mustNew(EventTypeAddNode, p) }

// RemoveNode builds a REMOVE_NODE event.
func RemoveNode(id int) Event { return mustNew(EventTypeRemoveNode, RemoveNodePayload{ID: id}) }

// AddEdge builds an ADD_EDGE event.
func AddEdge(p AddEdgePayload) Event { return mustNew(EventTypeAddEdge, p) }

// RemoveEdge builds a REMOVE_EDGE event.
func RemoveEdge(from, to int) Event {
	return mustNew(EventTypeRemoveEdge, RemoveEdgePayload{From: from, To: to})
}

// mustNew is only used with the payload structs above, which always marshal.
func mustNew(t EventType, payload any) Event {
	ev, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// Decode parses one wire message. Unknown types decode successfully;
// rejecting them is up to the router.
func Decode(data []byte) (Event, error) {
	if len(data) == 0 {
		return Event{}, ErrEmptyMessage
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("invalid event json: %w", err)
	}
	return ev, nil
}

// Encode serializes the event as one wire message.
func Encode(ev Event) ([]byte, error) {
	if len(ev.Payload) == 0 {
		ev.Payload = json.RawMessage("{}")
	}
	return json.Marshal(ev)
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if p := bytes.TrimSpace(e.Payload); len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return fmt.Errorf("%s: %w", e.Type, ErrMissingPayload)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}
