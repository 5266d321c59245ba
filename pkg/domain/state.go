package domain

// State is the logical phase of a workflow session.
type State string

const (
	StateIdle       State = "idle"       // No session
	StateStarting   State = "starting"   // Session created, workflow not yet past clarification
	StateClarifying State = "clarifying" // One or more questions waiting for an answer
	StateRunning    State = "running"    // Pipeline executing, stage results arriving
	StateComplete   State = "complete"   // Final summary received (sink)
	StateFailed     State = "failed"     // Unrecoverable error (sink)
)

// Terminal reports whether no further events are accepted in this state.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Active reports whether a workflow invocation is in progress.
func (s State) Active() bool {
	return s == StateStarting || s == StateClarifying || s == StateRunning
}

// QA is one clarification question and its answer, if any.
type QA struct {
	Question string `json:"question" mapstructure:"question"`
	Answer   string `json:"answer,omitempty" mapstructure:"answer"`
	Answered bool   `json:"answered"`
}

// Pending reports whether the question still waits for an answer.
func (q QA) Pending() bool {
	return !q.Answered
}

// Session represents the snapshot of one end-to-end workflow run.
type Session struct {
	// ID is the opaque session identifier (client-generated or server-assigned).
	ID string `json:"id"`

	// State is the current logical state.
	State State `json:"state"`

	// Questions holds every clarification question in server-given order,
	// answered or pending.
	Questions []QA `json:"questions"`

	// Stages maps stage name to its latest payload (last write wins).
	Stages map[string]map[string]any `json:"stages"`

	// Summary is the final narrative summary. Only meaningful if HasSummary.
	Summary    string `json:"summary,omitempty"`
	HasSummary bool   `json:"has_summary"`

	// Status is the latest informational status or progress message.
	Status string `json:"status,omitempty"`

	// Err is the last recorded error, if any.
	Err string `json:"error,omitempty"`

	// History tracks the states entered, in order.
	History []State `json:"history"`
}

// NewSession creates a clean session in the starting state.
func NewSession(id string) *Session {
	return &Session{
		ID:      id,
		State:   StateStarting,
		Stages:  make(map[string]map[string]any),
		History: []State{StateStarting},
	}
}

// Pending returns the unanswered questions in order.
func (s Session) Pending() []string {
	var out []string
	for _, q := range s.Questions {
		if q.Pending() {
			out = append(out, q.Question)
		}
	}
	return out
}

// Answers returns the recorded answers in the order they were supplied.
func (s Session) Answers() []string {
	var out []string
	for _, q := range s.Questions {
		if q.Answered {
			out = append(out, q.Answer)
		}
	}
	return out
}

// Clone returns a deep copy of the session so callers can't mutate
// machine-owned state through the snapshot.
func (s Session) Clone() Session {
	c := s
	c.Questions = append([]QA(nil), s.Questions...)
	c.History = append([]State(nil), s.History...)
	c.Stages = make(map[string]map[string]any, len(s.Stages))
	for name, payload := range s.Stages {
		c.Stages[name] = clonePayload(payload)
	}
	return c
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
