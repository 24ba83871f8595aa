package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rmax-ai/graphsync/pkg/client"
	"github.com/rmax-ai/graphsync/pkg/protocol"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	defaultAPIURL  = "http://127.0.0.1:8090"
	requestTimeout = 10 * time.Second
)

var errInvalidArgs = errors.New("invalid arguments")

const usage = `Usage:
  graphsync graph              print the relay graph
  graphsync events [limit]     print recent relayed events
  graphsync report <events|activity> [hour|day]
                               print a CSV report of the last 24h
  graphsync send <json>        inject one event, e.g. '{"type":"REMOVE_NODE","payload":{"id":3}}'
  graphsync version

The relay address is read from GRAPHSYNC_API_URL (default ` + defaultAPIURL + `).
`

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], apiURL(), os.Stdout, os.Stderr))
}

func apiURL() string {
	if v := os.Getenv("GRAPHSYNC_API_URL"); v != "" {
		return v
	}
	return defaultAPIURL
}

func run(args []string, endpoint string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	c := client.NewClient(endpoint)

	var err error
	switch args[0] {
	case "graph":
		err = printGraph(ctx, c, stdout)
	case "events":
		err = printEvents(ctx, c, args[1:], stdout)
	case "report":
		if len(args) < 2 || len(args) > 3 {
			fmt.Fprint(stderr, usage)
			return 1
		}
		opts := client.ReportOptions{Type: args[1]}
		if len(args) == 3 {
			opts.Bucket = args[2]
		}
		err = printReport(ctx, c, opts, stdout)
	case "send":
		if len(args) != 2 {
			fmt.Fprint(stderr, usage)
			return 1
		}
		err = sendEvent(ctx, c, args[1], stdout)
	case "version":
		fmt.Fprintf(stdout, "graphsync %s (%s, built %s)\n", Version, Commit, BuildTime)
	default:
		fmt.Fprint(stderr, usage)
		return 1
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) && !errors.Is(err, errInvalidArgs) {
			fmt.Fprintln(stderr, "Is graphsync-d running?")
		}
		return 1
	}
	return 0
}

func printGraph(ctx context.Context, c *client.Client, w io.Writer) error {
	g, err := c.GetGraph(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Nodes (%d)\n", len(g.Nodes))
	for _, n := range g.Nodes {
		fmt.Fprintf(w, "  #%d %s  %g/%g  %s\n", n.ID, n.Label, n.PowerUsage, n.PowerLimit, n.Color)
	}
	edges := g.VisibleEdges()
	fmt.Fprintf(w, "Edges (%d)\n", len(edges))
	for _, e := range edges {
		fmt.Fprintf(w, "  %d -> %d  %s\n", e.From, e.To, e.Label)
	}
	return nil
}

func printEvents(ctx context.Context, c *client.Client, args []string, w io.Writer) error {
	opts := client.EventsOptions{}
	if len(args) > 0 {
		limit, err := strconv.Atoi(args[0])
		if err != nil || limit <= 0 {
			return fmt.Errorf("%w: limit %q", errInvalidArgs, args[0])
		}
		opts.Limit = limit
	}

	entries, err := c.GetEvents(ctx, opts)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-12s %-8s %s %s\n",
			e.TsIngest.Format(time.RFC3339), e.EventType, e.Outcome, e.PeerID, string(e.Payload))
	}
	return nil
}

func printReport(ctx context.Context, c *client.Client, opts client.ReportOptions, w io.Writer) error {
	body, err := c.GetReport(ctx, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func sendEvent(ctx context.Context, c *client.Client, raw string, w io.Writer) error {
	ev, err := protocol.Decode([]byte(strings.TrimSpace(raw)))
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	if err := c.SendEvent(ctx, ev); err != nil {
		return err
	}

	fmt.Fprintf(w, "Sent %s %s\n", ev.Type, string(ev.Payload))
	return nil
}
