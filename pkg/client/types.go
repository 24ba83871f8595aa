package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the health check response.
type Status struct {
	// Status is the health status string (e.g. "ok").
	Status string `json:"status"`
	// Peers is the number of connected websocket peers.
	Peers int `json:"peers"`
}

// Entry is one relayed event as recorded in the relay journal.
type Entry struct {
	EntryID   string          `json:"entry_id"`
	TsIngest  time.Time       `json:"ts_ingest"`
	EventType string          `json:"event_type"`
	Origin    string          `json:"origin"`
	PeerID    string          `json:"peer_id"`
	Outcome   string          `json:"outcome"`
	Payload   json.RawMessage `json:"payload"`
}

// EventsOptions defines filters for GetEvents.
type EventsOptions struct {
	Limit  int
	Types  []string
	PeerID string
}

// ReportOptions selects a CSV report. Type is "events" or "activity".
type ReportOptions struct {
	Type      string
	From      time.Time
	To        time.Time
	PeerID    string
	EventType string
	Bucket    string // minute | hour | day, activity reports only
}

// APIError is returned for non-success responses.
type APIError struct {
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("unexpected status: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status: %d (%s)", e.StatusCode, e.Code)
}
