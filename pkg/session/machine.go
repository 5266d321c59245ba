package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/domain"
)

// Outcome describes the effect of one input on a Machine.
type Outcome struct {
	From domain.State
	To   domain.State
	// Err is set when the input was dropped: a *domain.ProtocolError for
	// illegal events, a *domain.DecodeError for undecodable ones.
	Err error
}

// Changed reports whether the state changed.
func (o Outcome) Changed() bool { return o.From != o.To }

// Dropped reports whether the input was discarded.
func (o Outcome) Dropped() bool { return o.Err != nil }

// Machine is the pure session state machine. It performs no I/O and is not
// safe for concurrent use; Session serializes access to it.
type Machine struct {
	session *domain.Session
	lastErr error
	logger  *slog.Logger
}

// NewMachine creates a Machine in the idle state.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Machine{logger: logger}
}

// State returns the current state.
func (m *Machine) State() domain.State {
	if m.session == nil {
		return domain.StateIdle
	}
	return m.session.State
}

// Snapshot returns a deep copy of the current session.
func (m *Machine) Snapshot() domain.Session {
	if m.session == nil {
		return domain.Session{State: domain.StateIdle, Stages: map[string]map[string]any{}}
	}
	return m.session.Clone()
}

// Err returns the error that failed the session, if any.
func (m *Machine) Err() error { return m.lastErr }

// Current returns the oldest pending question.
func (m *Machine) Current() (string, bool) {
	if m.session == nil || m.session.State != domain.StateClarifying {
		return "", false
	}
	for _, q := range m.session.Questions {
		if q.Pending() {
			return q.Question, true
		}
	}
	return "", false
}

// Start begins a new session. It is allowed only when no session is active.
func (m *Machine) Start(id string) (Outcome, error) {
	from := m.State()
	if from.Active() {
		return Outcome{From: from, To: from}, &domain.ProtocolError{State: from, What: "start"}
	}
	m.session = domain.NewSession(id)
	m.lastErr = nil
	return Outcome{From: from, To: domain.StateStarting}, nil
}

// Adopt replaces the session id while a run is active. Streamed events may
// move the run past starting before the opening request returns.
func (m *Machine) Adopt(id string) {
	if id == "" || m.session == nil || !m.session.State.Active() {
		return
	}
	m.session.ID = id
}

// Answer pairs text with the oldest pending question.
func (m *Machine) Answer(text string) (Outcome, error) {
	from := m.State()
	if from != domain.StateClarifying {
		return Outcome{From: from, To: from}, &domain.ProtocolError{State: from, What: "answer"}
	}
	s := m.session
	for i := range s.Questions {
		if s.Questions[i].Pending() {
			s.Questions[i].Answer = text
			s.Questions[i].Answered = true
			break
		}
	}
	if len(s.Pending()) == 0 {
		m.enter(domain.StateRunning)
	}
	return Outcome{From: from, To: s.State}, nil
}

// Fail moves an active session to failed, keeping everything received so far.
func (m *Machine) Fail(err error) Outcome {
	from := m.State()
	if !from.Active() {
		return Outcome{From: from, To: from}
	}
	m.fail(err)
	return Outcome{From: from, To: domain.StateFailed}
}

// Apply feeds one event to the machine.
func (m *Machine) Apply(ev domain.Event) Outcome {
	from := m.State()
	out := Outcome{From: from, To: from}

	if e, ok := ev.(domain.ErrorEvent); ok && errors.Is(e.Err, domain.ErrDecode) {
		m.logger.Warn("skipping undecodable event", "state", from, "error", e.Err)
		out.Err = e.Err
		return out
	}

	if m.session == nil {
		switch ev.(type) {
		case domain.StatusEvent, domain.ProgressEvent:
			return out
		}
		return m.reject(out, ev)
	}
	s := m.session

	switch e := ev.(type) {
	case domain.StatusEvent:
		if e.Message != "" {
			s.Status = e.Message
		}
		return out

	case domain.ProgressEvent:
		if e.Message != "" {
			s.Status = e.Message
		}
		return out

	case domain.StartEvent:
		if from != domain.StateStarting {
			return m.reject(out, ev)
		}
		m.Adopt(e.SessionID)
		return out

	case domain.ClarifierBatchEvent:
		switch from {
		case domain.StateStarting:
			m.merge(e.Questions)
			if len(s.Pending()) > 0 {
				m.enter(domain.StateClarifying)
			} else {
				m.enter(domain.StateRunning)
			}
		case domain.StateClarifying:
			m.merge(e.Questions)
		default:
			return m.reject(out, ev)
		}

	case domain.QuestionEvent:
		switch from {
		case domain.StateStarting, domain.StateClarifying:
			m.ask(e.Question)
			if len(s.Pending()) > 0 {
				m.enter(domain.StateClarifying)
			}
		default:
			return m.reject(out, ev)
		}

	case domain.StageResultEvent:
		switch from {
		case domain.StateStarting:
			// No clarification round.
			m.enter(domain.StateRunning)
			s.Stages[e.Stage] = e.Payload
		case domain.StateRunning:
			s.Stages[e.Stage] = e.Payload
		default:
			return m.reject(out, ev)
		}

	case domain.CompleteEvent:
		switch from {
		case domain.StateStarting:
			m.enter(domain.StateRunning)
			fallthrough
		case domain.StateRunning:
			s.Summary = e.Summary
			s.HasSummary = true
			m.enter(domain.StateComplete)
		default:
			return m.reject(out, ev)
		}

	case domain.ErrorEvent:
		if !from.Active() {
			return m.reject(out, ev)
		}
		m.fail(e.Err)

	default:
		return m.reject(out, ev)
	}

	out.To = s.State
	return out
}

// merge applies a clarifier batch. Batches carry the whole question list
// in server order, so a position already held locally is known and left
// untouched (answers are paired locally); later positions are appended even
// when their text repeats an earlier question.
func (m *Machine) merge(qs []domain.QA) {
	s := m.session
	if len(qs) > len(s.Questions) {
		s.Questions = append(s.Questions, qs[len(s.Questions):]...)
	}
}

// ask records a single question. Re-asking a question that is still
// pending does not add it twice.
func (m *Machine) ask(text string) {
	s := m.session
	for _, q := range s.Questions {
		if q.Pending() && q.Question == text {
			return
		}
	}
	s.Questions = append(s.Questions, domain.QA{Question: text})
}

func (m *Machine) enter(st domain.State) {
	if m.session.State == st {
		return
	}
	m.session.State = st
	m.session.History = append(m.session.History, st)
}

func (m *Machine) fail(err error) {
	if err == nil {
		err = errors.New("unknown failure")
	}
	m.lastErr = err
	m.session.Err = err.Error()
	m.enter(domain.StateFailed)
}

func (m *Machine) reject(out Outcome, ev domain.Event) Outcome {
	out.Err = &domain.ProtocolError{State: out.From, What: string(ev.Kind())}
	m.logger.Warn("dropping event", "state", out.From, "kind", ev.Kind(), "error", out.Err)
	return out
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s (dropped: %v)", o.From, o.Err)
	}
	return fmt.Sprintf("%s -> %s", o.From, o.To)
}
