package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
)

// Origin tags where an event came from. It only affects how failures are reported
// and whether a successful mutation is forwarded to the peer.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Router maps events to graph store mutations. It is the only writer of the store.
type Router struct {
	store  *graph.Store
	logger *zap.Logger
}

// NewRouter creates a router over the given store.
func NewRouter(store *graph.Store, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: store, logger: logger}
}

// Store returns the graph store the router mutates.
func (r *Router) Store() *graph.Store {
	return r.store
}

// Apply validates and applies a single event. A nil error means the store changed.
func (r *Router) Apply(ev protocol.Event, origin Origin) error {
	var err error
	switch ev.Type {
	case protocol.EventTypeAddNode:
		err = r.addNode(ev)
	case protocol.EventTypeRemoveNode:
		err = r.removeNode(ev)
	case protocol.EventTypeAddEdge:
		err = r.addEdge(ev)
	case protocol.EventTypeRemoveEdge:
		err = r.removeEdge(ev)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
		r.logger.Warn("unknown_event_type", zap.String("type", string(ev.Type)), zap.String("origin", string(origin)))
	}

	r.record(ev.Type, origin, err)
	return err
}

func (r *Router) addNode(ev protocol.Event) error {
	var p protocol.AddNodePayload
	if err := ev.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	overwritten := r.store.UpsertNode(graph.Node{
		ID:         p.ID,
		Label:      p.Label,
		PowerUsage: p.PowerUsage,
		PowerLimit: p.PowerLimit,
		Color:      graph.ColorFor(p.PowerUsage, p.PowerLimit),
	})
	if overwritten {
		r.logger.Debug("node_overwritten", zap.Int("id", p.ID))
	}
	return nil
}

func (r *Router) removeNode(ev protocol.Event) error {
	var p protocol.RemoveNodePayload
	if err := ev.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if !r.store.RemoveNode(p.ID) {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, p.ID)
	}
	return nil
}

func (r *Router) addEdge(ev protocol.Event) error {
	var p protocol.AddEdgePayload
	if err := ev.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if _, ok := r.store.Node(p.From); !ok {
		return fmt.Errorf("%w: from=%d", ErrEndpointMissing, p.From)
	}
	if _, ok := r.store.Node(p.To); !ok {
		return fmt.Errorf("%w: to=%d", ErrEndpointMissing, p.To)
	}

	r.store.AddEdge(graph.Edge{From: p.From, To: p.To, Label: p.Label})
	return nil
}

func (r *Router) removeEdge(ev protocol.Event) error {
	var p protocol.RemoveEdgePayload
	if err := ev.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	matches := r.store.Edges(func(e graph.Edge) bool {
		return e.From == p.From && e.To == p.To
	})
	// Duplicates are allowed; only the oldest match is removed.
	if len(matches) == 0 || !r.store.RemoveEdge(matches[0].Seq) {
		return fmt.Errorf("%w: %d->%d", ErrEdgeNotFound, p.From, p.To)
	}
	return nil
}

func (r *Router) record(t protocol.EventType, origin Origin, err error) {
	typeLabel := string(t)
	if !t.Known() {
		typeLabel = "unknown"
	}

	outcome := "applied"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownEventType):
		outcome = "unknown"
	case errors.Is(err, ErrInvalidPayload):
		outcome = "invalid"
	default:
		outcome = "rejected"
	}
	GraphsyncEventsTotal.WithLabelValues(typeLabel, string(origin), outcome).Inc()

	nodes, edges := r.store.Len()
	GraphsyncNodes.Set(float64(nodes))
	GraphsyncEdges.Set(float64(edges))
}
