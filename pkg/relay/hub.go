// Package relay implements the peer endpoint graph clients connect to. Every event a
// peer sends is forwarded verbatim to all other peers and applied to the relay's own
// view of the graph.
package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/rmax-ai/graphsync/pkg/engine"
	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
	"github.com/rmax-ai/graphsync/pkg/store"
	busredis "github.com/rmax-ai/graphsync/pkg/store/redis"
)

const (
	peerQueueSize  = 64
	maxMessageSize = 64 << 10
)

// ErrClosed is returned by Inject after the hub is closed.
var ErrClosed = errors.New("relay: hub closed")

// Journal records relayed events.
type Journal interface {
	AppendEntry(ctx context.Context, e *store.Entry) error
}

// Bus shares relayed events with other relay instances.
type Bus interface {
	Publish(ctx context.Context, peerID string, event []byte) error
	Subscribe(ctx context.Context, fn func(busredis.Message)) error
}

type peer struct {
	id   string
	out  chan string
	done chan struct{}
}

// Hub tracks connected peers and relays events between them.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool

	applyMu sync.Mutex
	router  *engine.Router

	journal Journal
	bus     Bus
	logger  *zap.Logger
}

// NewHub creates a hub that maintains its view of the graph in st.
func NewHub(st *graph.Store, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		peers:  make(map[string]*peer),
		router: engine.NewRouter(st, logger.Named("router")),
		logger: logger,
	}
}

// SetJournal enables journaling of relayed events.
func (h *Hub) SetJournal(j Journal) {
	h.journal = j
}

// SetBus enables fan-out to other relay instances.
func (h *Hub) SetBus(b Bus) {
	h.bus = b
}

// Graph returns a snapshot of the relay's view of the graph.
func (h *Hub) Graph() *graph.Graph {
	return h.router.Store().Snapshot()
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Handler returns the websocket endpoint for peers.
func (h *Hub) Handler() websocket.Handler {
	return websocket.Handler(h.serveConn)
}

// Inject relays an event that did not come from a connected peer.
func (h *Hub) Inject(ctx context.Context, ev protocol.Event) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	h.relay(ctx, "", store.OriginAPI, ev, string(data))
	return nil
}

// Run consumes the bus until ctx is cancelled. Without a bus it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		<-ctx.Done()
		return nil
	}
	return h.bus.Subscribe(ctx, func(m busredis.Message) {
		ev, err := protocol.Decode(m.Event)
		if err != nil {
			GraphsyncRelayMessagesTotal.WithLabelValues(store.OriginBus, "invalid").Inc()
			h.logger.Warn("bus_message_decode_failed", zap.Error(err))
			return
		}
		h.deliver(ctx, m.PeerID, store.OriginBus, ev, string(m.Event))
	})
}

// Close disconnects every peer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, p := range h.peers {
		close(p.done)
		delete(h.peers, id)
	}
	GraphsyncRelayPeers.Set(0)
}

func (h *Hub) serveConn(conn *websocket.Conn) {
	conn.MaxPayloadBytes = maxMessageSize
	// The HTTP server's read/write timeouts stay on the hijacked connection.
	_ = conn.SetDeadline(time.Time{})
	defer func() {
		_ = conn.Close()
	}()

	p, ok := h.register()
	if !ok {
		return
	}
	logger := h.logger.With(zap.String("peer_id", p.id))
	logger.Info("peer_connected", zap.String("remote", conn.Request().RemoteAddr))
	defer func() {
		h.unregister(p)
		logger.Info("peer_disconnected")
	}()

	go h.writeLoop(conn, p, logger)

	ctx := conn.Request().Context()
	for {
		var msg string
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("peer_receive_failed", zap.Error(err))
			}
			return
		}

		ev, err := protocol.Decode([]byte(msg))
		if err != nil {
			GraphsyncRelayMessagesTotal.WithLabelValues(store.OriginPeer, "invalid").Inc()
			logger.Warn("message_decode_failed", zap.Error(err))
			continue
		}
		h.relay(ctx, p.id, store.OriginPeer, ev, msg)
	}
}

// relay forwards a locally received event to peers, applies it, journals it and
// publishes it on the bus.
func (h *Hub) relay(ctx context.Context, fromID, origin string, ev protocol.Event, raw string) {
	h.deliver(ctx, fromID, origin, ev, raw)

	if h.bus != nil {
		if err := h.bus.Publish(ctx, fromID, []byte(raw)); err != nil {
			h.logger.Error("bus_publish_failed", zap.Error(err))
		}
	}
}

// deliver forwards the raw message to every peer except fromID and applies it to the
// relay graph. The message is forwarded even if the relay rejects it: each peer
// validates against its own graph.
func (h *Hub) deliver(ctx context.Context, fromID, origin string, ev protocol.Event, raw string) {
	// applyMu orders fan-out, apply and the journal timestamp as one step, so every
	// peer, the relay graph, snapshots and replay see the same sequence.
	h.applyMu.Lock()
	h.broadcast(fromID, raw)
	err := h.router.Apply(ev, engine.OriginRemote)
	applied := time.Now().UTC()
	h.applyMu.Unlock()

	outcome := outcomeOf(err)
	GraphsyncRelayMessagesTotal.WithLabelValues(origin, outcome).Inc()
	if err != nil {
		h.logger.Debug("relay_graph_rejected", zap.String("type", string(ev.Type)), zap.Error(err))
	}

	if h.journal != nil {
		entry := &store.Entry{
			TsIngest:  applied,
			EventType: string(ev.Type),
			Origin:    origin,
			PeerID:    fromID,
			Outcome:   outcome,
			Payload:   ev.Payload,
		}
		if err := h.journal.AppendEntry(ctx, entry); err != nil {
			h.logger.Error("journal_append_failed", zap.Error(err))
		}
	}
}

func (h *Hub) broadcast(fromID, raw string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, p := range h.peers {
		if id == fromID {
			continue
		}
		select {
		case p.out <- raw:
		default:
			h.logger.Warn("peer_queue_full", zap.String("peer_id", id))
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, p *peer, logger *zap.Logger) {
	for {
		select {
		case <-p.done:
			_ = conn.Close()
			return
		case msg := <-p.out:
			if err := websocket.Message.Send(conn, msg); err != nil {
				logger.Warn("peer_send_failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *Hub) register() (*peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	p := &peer{
		id:   uuid.NewString(),
		out:  make(chan string, peerQueueSize),
		done: make(chan struct{}),
	}
	h.peers[p.id] = p
	GraphsyncRelayPeers.Set(float64(len(h.peers)))
	return p, true
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p.id]; !ok {
		return
	}
	close(p.done)
	delete(h.peers, p.id)
	GraphsyncRelayPeers.Set(float64(len(h.peers)))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, engine.ErrUnknownEventType):
		return "unknown"
	case errors.Is(err, engine.ErrInvalidPayload):
		return "invalid"
	default:
		return "rejected"
	}
}
