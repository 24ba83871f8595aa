package engine

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
)

// Sender forwards a locally applied event to the peer.
type Sender interface {
	Send(ev protocol.Event) error
}

// Session binds a graph store to one peer channel. It serializes every mutation:
// a local action holds the session for its whole prompt sequence, so inbound events
// arriving meanwhile wait until it completes.
type Session struct {
	mu       sync.Mutex
	router   *Router
	sender   Sender
	logger   *zap.Logger
	nextID   int
	onChange func()
}

// NewSession creates a session over store. sender may be nil for a detached session.
func NewSession(store *graph.Store, sender Sender, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		router: NewRouter(store, logger),
		sender: sender,
		logger: logger,
		nextID: 1,
	}
}

// SetSender replaces the peer sender.
func (s *Session) SetSender(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

// OnChange registers a callback invoked after every applied mutation.
// It runs with the session held; it may read Snapshot but must not start actions.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Snapshot returns the current graph.
func (s *Session) Snapshot() *graph.Graph {
	return s.router.Store().Snapshot()
}

// NextNodeID returns the id the next local add will use.
func (s *Session) NextNodeID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

// HandleInbound applies an event received from the peer. Failures are dropped
// silently apart from logging; nothing is echoed back.
func (s *Session) HandleInbound(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.router.Apply(ev, OriginRemote)
	switch {
	case err == nil:
		s.changed()
	case errors.Is(err, ErrUnknownEventType):
		// already logged by the router
	default:
		s.logger.Debug("remote_event_dropped", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// commitLocked applies a local event and forwards it to the peer on success.
// Must be called with s.mu held.
func (s *Session) commitLocked(ev protocol.Event) error {
	if err := s.router.Apply(ev, OriginLocal); err != nil {
		return err
	}
	s.changed()

	if s.sender == nil {
		return nil
	}
	if err := s.sender.Send(ev); err != nil {
		// The local mutation stands; there is no rollback and no retry.
		GraphsyncSendFailuresTotal.Inc()
		s.logger.Warn("event_send_failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
	return nil
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
