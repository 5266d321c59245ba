package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed is returned by operations on a closed Session.
	ErrClosed = errors.New("session closed")
	// ErrEmptyInput is returned when a prompt or answer is blank.
	ErrEmptyInput = errors.New("input must not be empty")
	// ErrNotStarted is returned by Wait before the first Start.
	ErrNotStarted = errors.New("session not started")
)

// Session drives one workflow run at a time: it owns the state machine,
// binds it to a Workflow, and guards against re-entrant calls.
type Session struct {
	workflow Workflow
	logger   *slog.Logger
	hooks    hookSet
	newID    func() string

	// guard admits one Start or SubmitAnswer at a time.
	guard *semaphore.Weighted

	mu       sync.Mutex
	machine  *Machine
	input    string
	gate     chan struct{}
	terminal chan struct{}
	closed   bool
	// abort cancels an answer round trip in flight.
	abort context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithLogger configures a logger for the Session and its state machine.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithHooks adds observers. It may be given several times.
func WithHooks(h Hooks) Option {
	return func(s *Session) { s.hooks = append(s.hooks, h) }
}

// WithIDGenerator replaces the random session id generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Session) { s.newID = f }
}

// New creates an idle Session bound to w.
func New(w Workflow, opts ...Option) *Session {
	s := &Session{
		workflow: w,
		logger:   logging.NewNop(),
		newID:    uuid.NewString,
		guard:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine = NewMachine(s.logger)
	return s
}

// Start begins a workflow run for input. ctx bounds the whole run on
// streamed workflows. It fails with domain.ErrBusy while another Start or
// SubmitAnswer is in flight and with a *domain.ProtocolError while a run is
// active.
func (s *Session) Start(ctx context.Context, input string) error {
	if !s.guard.TryAcquire(1) {
		return domain.ErrBusy
	}
	defer s.guard.Release(1)

	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	id := s.newID()
	out, err := s.machine.Start(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.input = input
	s.gate = make(chan struct{})
	s.terminal = make(chan struct{})
	snap := s.machine.Snapshot()
	s.mu.Unlock()

	s.logger.Info("session started", "session_id", id)
	s.hooks.transition(ctx, Transition{From: out.From, To: out.To, Session: snap})

	serverID, err := s.workflow.Open(ctx, id, input, s.receive)
	if err != nil {
		s.failWith(ctx, err)
		return fmt.Errorf("failed to open workflow: %w", err)
	}
	if serverID != "" {
		s.mu.Lock()
		s.machine.Adopt(serverID)
		s.mu.Unlock()
	}
	return nil
}

// SubmitAnswer answers the oldest pending question. It fails with
// domain.ErrBusy while another call is in flight and with a
// *domain.ProtocolError unless the session is clarifying. When the answer
// cannot be forwarded the session is left unchanged.
func (s *Session) SubmitAnswer(ctx context.Context, text string) error {
	if !s.guard.TryAcquire(1) {
		return domain.ErrBusy
	}
	defer s.guard.Release(1)

	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if st := s.machine.State(); st != domain.StateClarifying {
		s.mu.Unlock()
		return &domain.ProtocolError{State: st, What: "answer"}
	}
	id := s.machine.Snapshot().ID
	actx, cancel := context.WithCancel(ctx)
	s.abort = cancel
	s.mu.Unlock()

	// The lock is not held across the round trip so Close, Snapshot and
	// event delivery stay responsive while the backend is slow.
	followUps, err := s.workflow.Answer(actx, id, []string{text})

	s.mu.Lock()
	s.abort = nil
	cancel()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to forward answer: %w", err)
	}
	if st := s.machine.State(); st != domain.StateClarifying {
		s.mu.Unlock()
		return &domain.ProtocolError{State: st, What: "answer"}
	}

	var dropped []droppedEvent
	var transitions []Transition
	for _, ev := range followUps {
		if out := s.machine.Apply(ev); out.Dropped() {
			dropped = append(dropped, droppedEvent{ev, out.Err})
		}
	}
	out, err := s.machine.Answer(text)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.machine.Snapshot()
	if out.Changed() {
		transitions = append(transitions, Transition{From: out.From, To: out.To, Session: snap})
	}
	gate := s.gate
	input := s.input
	s.mu.Unlock()

	for _, ev := range followUps {
		s.hooks.event(ctx, ev)
	}
	for _, d := range dropped {
		s.hooks.dropped(ctx, d.ev, d.err)
	}
	for _, t := range transitions {
		s.hooks.transition(ctx, t)
	}

	if out.To != domain.StateRunning {
		return nil
	}

	s.logger.Info("clarification complete", "session_id", snap.ID, "answers", len(snap.Answers()))
	err = s.workflow.Execute(ctx, snap.ID, input, snap.Answers(), s.receive)
	s.release(gate)
	if err != nil {
		s.failWith(ctx, err)
		return fmt.Errorf("failed to run pipeline: %w", err)
	}
	return nil
}

// lost returns the error that fails the session when a disconnect leaves
// it in state st, or nil when the run can still finish. A stream ends with
// each request; while clarifying it is the answer that opens the next one.
// A socket disconnect is fatal only when no reconnect follows.
func (s *Session) lost(st domain.StatusEvent, state domain.State) error {
	if !s.workflow.Persistent() {
		switch state {
		case domain.StateStarting, domain.StateRunning:
			return &domain.TransportError{
				Op:  "stream",
				Err: errors.New("stream ended before the workflow completed"),
			}
		}
		return nil
	}
	if !st.Final || !state.Active() {
		return nil
	}
	return &domain.TransportError{
		Op:  "socket",
		Err: fmt.Errorf("connection closed (code %d) before the workflow completed", st.Code),
	}
}

type droppedEvent struct {
	ev  domain.Event
	err error
}

// receive is the channel listener for every workflow invocation.
func (s *Session) receive(ctx context.Context, ev domain.Event) {
	s.mu.Lock()
	out := s.machine.Apply(ev)

	if st, ok := ev.(domain.StatusEvent); ok && st.Connectivity == domain.Disconnected {
		if err := s.lost(st, out.To); err != nil {
			out = Outcome{From: out.From, To: s.machine.Fail(err).To}
		}
	}

	var snap domain.Session
	if out.Changed() {
		snap = s.machine.Snapshot()
		if out.To.Terminal() {
			s.closeTerminal()
		}
	}
	hold := out.To == domain.StateClarifying && !s.workflow.Persistent()
	gate := s.gate
	s.mu.Unlock()

	s.hooks.event(ctx, ev)
	if out.Dropped() {
		s.hooks.dropped(ctx, ev, out.Err)
	}
	if out.Changed() {
		s.logger.Debug("session transition", "from", out.From, "to", out.To, "session_id", snap.ID)
		s.hooks.transition(ctx, Transition{From: out.From, To: out.To, Session: snap})
	}

	// Streamed delivery pauses while questions are outstanding; the
	// response is consumed again once clarification completes.
	if hold && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
}

func (s *Session) failWith(ctx context.Context, err error) {
	s.mu.Lock()
	out := s.machine.Fail(err)
	var snap domain.Session
	if out.Changed() {
		snap = s.machine.Snapshot()
		s.closeTerminal()
	}
	s.mu.Unlock()
	if out.Changed() {
		s.logger.Warn("session failed", "session_id", snap.ID, "error", err)
		s.hooks.transition(ctx, Transition{From: out.From, To: out.To, Session: snap})
	}
}

// closeTerminal must be called with mu held.
func (s *Session) closeTerminal() {
	if s.terminal == nil {
		return
	}
	select {
	case <-s.terminal:
	default:
		close(s.terminal)
	}
}

func (s *Session) release(gate chan struct{}) {
	if gate == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-gate:
	default:
		close(gate)
	}
}

// Snapshot returns a copy of the current session.
func (s *Session) Snapshot() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Snapshot()
}

// State returns the current state.
func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// Current returns the question the next answer will be paired with.
func (s *Session) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// Wait blocks until the run reaches complete or failed. For a failed run it
// returns the failure alongside the snapshot.
func (s *Session) Wait(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	terminal := s.terminal
	s.mu.Unlock()
	if terminal == nil {
		return s.Snapshot(), ErrNotStarted
	}

	select {
	case <-terminal:
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.machine.Snapshot()
	if snap.State == domain.StateFailed {
		return snap, s.machine.Err()
	}
	return snap, nil
}

// Close releases the workflow transport. An active run fails with ErrClosed.
// Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	gate := s.gate
	abort := s.abort
	s.mu.Unlock()

	if abort != nil {
		abort()
	}

	s.failWith(ctx, ErrClosed)
	s.release(gate)
	if err := s.workflow.Close(ctx); err != nil {
		return fmt.Errorf("failed to close workflow: %w", err)
	}
	return nil
}
