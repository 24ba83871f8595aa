package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/engine"
	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
	"github.com/rmax-ai/graphsync/pkg/store"
)

var replayBatch = 1000

// SnapshotStore persists relay graph checkpoints next to the journal.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *store.Snapshot) error
	LatestSnapshot(ctx context.Context) (*store.Snapshot, error)
	ReadEntriesSince(ctx context.Context, since time.Time, afterSeq int64, limit int) ([]*store.Entry, error)
}

// Snapshot captures the relay graph and the instant it was taken. Events
// journaled after that instant are not part of it.
func (h *Hub) Snapshot() (*graph.Graph, time.Time) {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()
	return h.router.Store().Snapshot(), time.Now().UTC()
}

// Restore rebuilds the relay graph from the latest snapshot and replays the applied
// journal entries that follow it. It must run before peers connect.
func (h *Hub) Restore(ctx context.Context, st SnapshotStore) (replayed int, err error) {
	snap, err := st.LatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}

	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	var (
		since    time.Time
		afterSeq int64
	)
	if snap != nil {
		var g graph.Graph
		if err := json.Unmarshal(snap.Payload, &g); err != nil {
			return 0, fmt.Errorf("snapshot %s: %w", snap.SnapshotID, err)
		}
		for _, ev := range graphEvents(&g) {
			// Edges whose endpoints were already gone are rejected here and not restored.
			_ = h.router.Apply(ev, engine.OriginRemote)
		}
		since, afterSeq = snap.TsSnapshot, store.SeqEnd
		h.logger.Info("snapshot_restored",
			zap.String("snapshot_id", snap.SnapshotID),
			zap.Int("nodes", len(g.Nodes)),
			zap.Int("edges", len(g.Edges)))
	}

	for {
		entries, err := st.ReadEntriesSince(ctx, since, afterSeq, replayBatch)
		if err != nil {
			return replayed, err
		}
		for _, e := range entries {
			since, afterSeq = e.TsIngest, e.Seq
			if e.Outcome != "applied" {
				continue
			}
			ev := protocol.Event{Type: protocol.EventType(e.EventType), Payload: e.Payload}
			if err := h.router.Apply(ev, engine.OriginRemote); err != nil {
				h.logger.Warn("journal_replay_rejected", zap.String("entry_id", e.EntryID), zap.Error(err))
				continue
			}
			replayed++
		}
		if len(entries) < replayBatch {
			return replayed, nil
		}
	}
}

// graphEvents expresses a graph as the events that rebuild it.
func graphEvents(g *graph.Graph) []protocol.Event {
	events := make([]protocol.Event, 0, len(g.Nodes)+len(g.Edges))
	for _, n := range g.Nodes {
		events = append(events, protocol.AddNode(protocol.AddNodePayload{
			ID:         n.ID,
			Label:      n.Label,
			PowerUsage: n.PowerUsage,
			PowerLimit: n.PowerLimit,
		}))
	}
	for _, e := range g.Edges {
		events = append(events, protocol.AddEdge(protocol.AddEdgePayload{From: e.From, To: e.To, Label: e.Label}))
	}
	return events
}

// SnapshotWorker periodically persists the relay graph.
type SnapshotWorker struct {
	hub      *Hub
	store    SnapshotStore
	interval time.Duration
	logger   *zap.Logger
}

// NewSnapshotWorker creates a new worker. interval defaults to five minutes.
func NewSnapshotWorker(hub *Hub, st SnapshotStore, interval time.Duration, logger *zap.Logger) *SnapshotWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotWorker{hub: hub, store: st, interval: interval, logger: logger}
}

// Run takes a snapshot every interval until ctx is cancelled.
func (w *SnapshotWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("snapshot_worker_started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("snapshot_worker_stopped")
			return
		case <-ticker.C:
			if err := w.TakeSnapshot(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("snapshot_failed", zap.Error(err))
			}
		}
	}
}

// TakeSnapshot stores the current relay graph.
func (w *SnapshotWorker) TakeSnapshot(ctx context.Context) error {
	g, ts := w.hub.Snapshot()
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	snap := &store.Snapshot{TsSnapshot: ts, Payload: payload}
	if err := w.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("store save failed: %w", err)
	}
	w.logger.Debug("snapshot_created", zap.String("snapshot_id", snap.SnapshotID), zap.Int("nodes", len(g.Nodes)))
	return nil
}
