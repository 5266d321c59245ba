package session

import (
	"context"

	"github.com/aretw0/prdflow/pkg/domain"
)

// Transition is reported whenever the session changes state.
type Transition struct {
	From    domain.State
	To      domain.State
	Session domain.Session
}

// Hooks observe a Session. Every field is optional. Hooks run outside the
// session lock, on the goroutine that caused them, in event order.
type Hooks struct {
	// OnEvent is called for every event delivered by the workflow.
	OnEvent func(ctx context.Context, ev domain.Event)
	// OnTransition is called after every state change.
	OnTransition func(ctx context.Context, t Transition)
	// OnDropped is called for events that were skipped (decode errors) or
	// rejected (protocol errors).
	OnDropped func(ctx context.Context, ev domain.Event, err error)
}

type hookSet []Hooks

func (hs hookSet) event(ctx context.Context, ev domain.Event) {
	for _, h := range hs {
		if h.OnEvent != nil {
			h.OnEvent(ctx, ev)
		}
	}
}

func (hs hookSet) transition(ctx context.Context, t Transition) {
	for _, h := range hs {
		if h.OnTransition != nil {
			h.OnTransition(ctx, t)
		}
	}
}

func (hs hookSet) dropped(ctx context.Context, ev domain.Event, err error) {
	for _, h := range hs {
		if h.OnDropped != nil {
			h.OnDropped(ctx, ev, err)
		}
	}
}
