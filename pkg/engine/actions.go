package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/protocol"
)

// Prompter collects one answer from the user. ok is false when the prompt was dismissed.
type Prompter interface {
	Prompt(ctx context.Context, question string) (answer string, ok bool)
}

// Alerter shows a message the user must acknowledge.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// User-facing prompts and alerts.
const (
	PromptNodeLabel  = "Enter the label for the new node:"
	PromptPowerUsage = "Enter Power Usage:"
	PromptPowerLimit = "Enter Power Limit:"
	PromptRemoveNode = "Enter Node ID to remove:"
	PromptSourceNode = "Enter source Node ID:"
	PromptTargetNode = "Enter destination Node ID:"
	PromptEdgeLabel  = "Enter edge label:"

	AlertInvalidNode  = "Invalid Node ID!"
	AlertInvalidNodes = "Invalid Node IDs!"
	AlertEdgeNotFound = "Edge not found!"
)

const (
	defaultPowerUsage = 0
	defaultPowerLimit = 1
)

// Actions are the four user-initiated graph operations. Each gathers its input,
// applies the event through the session router and, on success, sends it to the peer.
type Actions struct {
	session  *Session
	prompter Prompter
	alerter  Alerter
}

// NewActions wires the local action handlers to a session and its input collaborators.
func NewActions(session *Session, prompter Prompter, alerter Alerter) *Actions {
	return &Actions{session: session, prompter: prompter, alerter: alerter}
}

// AddNode creates a node with the next sequential id.
func (a *Actions) AddNode(ctx context.Context) (int, error) {
	s := a.session
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	answers, err := a.ask(ctx, PromptNodeLabel, PromptPowerUsage, PromptPowerLimit)
	if err != nil {
		return 0, err
	}

	label := strings.TrimSpace(answers[0])
	if label == "" {
		label = fmt.Sprintf("Node %d", id)
	}
	usage := parseQuantity(answers[1], defaultPowerUsage)
	limit := parseQuantity(answers[2], defaultPowerLimit)

	ev := protocol.AddNode(protocol.AddNodePayload{
		ID:         id,
		Label:      label,
		PowerUsage: usage,
		PowerLimit: limit,
	})
	if err := s.commitLocked(ev); err != nil {
		return 0, err
	}
	s.nextID++
	s.logger.Info("node_added", zap.Int("id", id), zap.String("label", label))
	return id, nil
}

// RemoveNode deletes a node by a user-entered id.
func (a *Actions) RemoveNode(ctx context.Context) error {
	s := a.session
	s.mu.Lock()
	defer s.mu.Unlock()

	answers, err := a.ask(ctx, PromptRemoveNode)
	if err != nil {
		return err
	}

	id, err := parseID(answers[0])
	if err != nil {
		return a.reject(ctx, AlertInvalidNode, err)
	}
	if err := s.commitLocked(protocol.RemoveNode(id)); err != nil {
		return a.reject(ctx, AlertInvalidNode, err)
	}
	s.logger.Info("node_removed", zap.Int("id", id))
	return nil
}

// AddEdge connects two existing nodes.
func (a *Actions) AddEdge(ctx context.Context) error {
	s := a.session
	s.mu.Lock()
	defer s.mu.Unlock()

	answers, err := a.ask(ctx, PromptSourceNode, PromptTargetNode, PromptEdgeLabel)
	if err != nil {
		return err
	}

	from, to, err := parseIDPair(answers[0], answers[1])
	if err != nil {
		return a.reject(ctx, AlertInvalidNodes, err)
	}
	ev := protocol.AddEdge(protocol.AddEdgePayload{From: from, To: to, Label: answers[2]})
	if err := s.commitLocked(ev); err != nil {
		return a.reject(ctx, AlertInvalidNodes, err)
	}
	s.logger.Info("edge_added", zap.Int("from", from), zap.Int("to", to))
	return nil
}

// RemoveEdge deletes the first edge from one node to another.
func (a *Actions) RemoveEdge(ctx context.Context) error {
	s := a.session
	s.mu.Lock()
	defer s.mu.Unlock()

	answers, err := a.ask(ctx, PromptSourceNode, PromptTargetNode)
	if err != nil {
		return err
	}

	from, to, err := parseIDPair(answers[0], answers[1])
	if err != nil {
		return a.reject(ctx, AlertEdgeNotFound, err)
	}
	if err := s.commitLocked(protocol.RemoveEdge(from, to)); err != nil {
		return a.reject(ctx, AlertEdgeNotFound, err)
	}
	s.logger.Info("edge_removed", zap.Int("from", from), zap.Int("to", to))
	return nil
}

// ask runs the prompts in order and stops at the first dismissed one.
func (a *Actions) ask(ctx context.Context, questions ...string) ([]string, error) {
	answers := make([]string, 0, len(questions))
	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		answer, ok := a.prompter.Prompt(ctx, q)
		if !ok {
			return nil, ErrCancelled
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

func (a *Actions) reject(ctx context.Context, message string, err error) error {
	if !IsRejection(err) && !errors.Is(err, ErrInvalidPayload) {
		return err
	}
	a.session.logger.Info("local_action_rejected", zap.String("alert", message), zap.Error(err))
	if a.alerter != nil {
		a.alerter.Alert(ctx, message)
	}
	return err
}

// parseQuantity reads a power value. Unparseable, negative, zero or non-finite input
// falls back to def, so an empty or zero answer means "use the default".
func parseQuantity(s string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: node id %q", ErrInvalidInput, s)
	}
	return id, nil
}

func parseIDPair(from, to string) (int, int, error) {
	f, err := parseID(from)
	if err != nil {
		return 0, 0, err
	}
	t, err := parseID(to)
	if err != nil {
		return 0, 0, err
	}
	return f, t, nil
}
