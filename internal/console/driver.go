package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/session"
)

// PromptQuestion is asked when Run is given no input.
const PromptQuestion = "Describe the product you want to build:"

// Driver runs one session to completion through a Handler.
type Driver struct {
	handler Handler
	logger  *slog.Logger
	limits  InputLimits
	wake    chan struct{}
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverLogger sets the driver logger.
func WithDriverLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// WithInputLimits bounds the product idea and each answer.
func WithInputLimits(l InputLimits) DriverOption {
	return func(d *Driver) { d.limits = l }
}

// NewDriver creates a Driver presenting through h.
func NewDriver(h Handler, opts ...DriverOption) *Driver {
	d := &Driver{
		handler: h,
		logger:  logging.NewNop(),
		limits:  DefaultInputLimits(),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Hooks must be installed on the session passed to Run.
func (d *Driver) Hooks() session.Hooks {
	return session.Hooks{
		OnEvent: func(ctx context.Context, ev domain.Event) {
			d.handler.Event(ctx, ev)
			d.poke()
		},
		OnTransition: func(ctx context.Context, t session.Transition) {
			d.handler.Transition(ctx, t)
			d.poke()
		},
	}
}

func (d *Driver) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run starts s with input (asking for it when empty), answers every
// clarification question from the handler's input, and presents the result.
// It returns the final snapshot and the failure of a failed run.
func (d *Driver) Run(ctx context.Context, s *session.Session, input string) (domain.Session, error) {
	var err error
	if input == "" {
		input, err = d.read(ctx, InputIdea, PromptQuestion)
	} else {
		input, err = d.limits.Clean(InputIdea, input)
	}
	if err != nil {
		return s.Snapshot(), err
	}

	if err := s.Start(ctx, input); err != nil {
		snap := s.Snapshot()
		_ = d.handler.Result(ctx, snap, err)
		return snap, err
	}

	for {
		if s.State().Terminal() {
			break
		}
		if q, ok := s.Current(); ok && s.State() == domain.StateClarifying {
			answer, err := d.read(ctx, InputAnswer, q)
			if err != nil {
				return s.Snapshot(), fmt.Errorf("failed to read answer: %w", err)
			}
			err = s.SubmitAnswer(ctx, answer)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrProtocol):
				// The run left clarifying while the user was typing.
				d.logger.Debug("answer discarded", "err", err)
			case s.State().Terminal():
				// The run failed underneath the answer; Wait reports it.
			default:
				return s.Snapshot(), err
			}
			continue
		}
		select {
		case <-d.wake:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}

	snap, err := s.Wait(ctx)
	if rerr := d.handler.Result(ctx, snap, err); rerr != nil {
		d.logger.Warn("failed to present result", "err", rerr)
	}
	return snap, err
}

// read asks q until a usable non-blank line arrives. A rejected line is
// reported as an error event and q is asked again.
func (d *Driver) read(ctx context.Context, kind InputKind, q string) (string, error) {
	if err := d.handler.Ask(ctx, q); err != nil {
		return "", err
	}
	for {
		text, err := d.handler.Input(ctx)
		if err != nil {
			return "", err
		}
		clean, err := d.limits.Clean(kind, text)
		var ie *InputError
		switch {
		case errors.As(err, &ie):
			d.logger.Warn("input rejected", "kind", kind, "err", err)
			d.handler.Event(ctx, domain.ErrorEvent{Err: err})
			if err := d.handler.Ask(ctx, q); err != nil {
				return "", err
			}
		case err != nil:
			return "", err
		case clean != "":
			return clean, nil
		}
	}
}
