package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
)

// Client is the graphsync relay API client.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a new relay client.
// endpoint defaults to "http://127.0.0.1:8090" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Endpoint returns the base URL of the relay.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ping checks the health of the relay.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	if err := c.getJSON(ctx, "/v1/health", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// WaitReady pings the relay until it answers, sleeping between attempts according to b.
func (c *Client) WaitReady(ctx context.Context, b BackoffStrategy) (Status, error) {
	for attempt := 0; ; attempt++ {
		status, err := c.Ping(ctx)
		if err == nil {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return Status{}, fmt.Errorf("relay not ready: %w", err)
		case <-time.After(b.Next(attempt)):
		}
	}
}

// GetGraph fetches the relay's current view of the graph.
func (c *Client) GetGraph(ctx context.Context) (*graph.Graph, error) {
	var g graph.Graph
	if err := c.getJSON(ctx, "/v1/graph", &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetEvents fetches recent journal entries from the relay.
func (c *Client) GetEvents(ctx context.Context, opts EventsOptions) ([]Entry, error) {
	q := url.Values{}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if len(opts.Types) > 0 {
		q.Set("type", strings.Join(opts.Types, ","))
	}
	if opts.PeerID != "" {
		q.Set("peer_id", opts.PeerID)
	}

	var entries []Entry
	if err := c.getJSON(ctx, "/v1/events?"+q.Encode(), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SendEvent injects one event into the relay as if a peer had sent it.
func (c *Client) SendEvent(ctx context.Context, ev protocol.Event) error {
	body, err := protocol.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/v1/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return statusError(resp)
	}
	return nil
}

// GetReport downloads a CSV export of the relay journal.
func (c *Client) GetReport(ctx context.Context, opts ReportOptions) ([]byte, error) {
	q := url.Values{}
	q.Set("type", opts.Type)
	if !opts.From.IsZero() {
		q.Set("from", opts.From.UTC().Format(time.RFC3339))
	}
	if !opts.To.IsZero() {
		q.Set("to", opts.To.UTC().Format(time.RFC3339))
	}
	if opts.PeerID != "" {
		q.Set("peer_id", opts.PeerID)
	}
	if opts.EventType != "" {
		q.Set("event_type", opts.EventType)
	}
	if opts.Bucket != "" {
		q.Set("bucket", opts.Bucket)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/v1/reports?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError reads the relay's {"error":"..."} body when there is one.
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Code: body.Error}
	}
	return &APIError{StatusCode: resp.StatusCode}
}
