// Package console drives a session from a terminal or a JSON-lines pipe:
// it prints events and transitions, reads the prompt and the clarification
// answers, and emits the final report.
package console

import (
	"context"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/session"
)

// Handler is the strategy for talking to the user. Text and JSON modes
// implement it. Event and Transition are called from delivery goroutines and
// must be safe for concurrent use with the other methods.
type Handler interface {
	// Event presents a decoded workflow event.
	Event(ctx context.Context, ev domain.Event)
	// Transition presents a state change.
	Transition(ctx context.Context, t session.Transition)
	// Ask presents a question the next Input answers.
	Ask(ctx context.Context, question string) error
	// Input reads one line of user input.
	Input(ctx context.Context) (string, error)
	// Result presents the finished run. err is the failure of a failed run.
	Result(ctx context.Context, s domain.Session, err error) error
}

// ContentRenderer turns markdown into terminal output.
type ContentRenderer func(string) (string, error)
