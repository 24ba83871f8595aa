package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// promptMsg asks the UI for one line of input. The answer goes back on reply.
type promptMsg struct {
	question string
	reply    chan promptReply
}

type promptReply struct {
	answer string
	ok     bool
}

// alertMsg shows a message until the user dismisses it, then closes ack.
type alertMsg struct {
	message string
	ack     chan struct{}
}

// uiBridge lets the blocking action handlers talk to the Bubble Tea event loop.
// Its methods run on the action goroutine, never on the event loop.
type uiBridge struct {
	send func(tea.Msg)
}

func (b *uiBridge) Prompt(ctx context.Context, question string) (string, bool) {
	reply := make(chan promptReply, 1)
	b.send(promptMsg{question: question, reply: reply})
	select {
	case r := <-reply:
		return r.answer, r.ok
	case <-ctx.Done():
		return "", false
	}
}

func (b *uiBridge) Alert(ctx context.Context, message string) {
	ack := make(chan struct{})
	b.send(alertMsg{message: message, ack: ack})
	select {
	case <-ack:
	case <-ctx.Done():
	}
}
