package domain

import (
	"time"
)

// Kind is the discriminating tag of an Event.
type Kind string

const (
	KindStart          Kind = "start"
	KindClarifierBatch Kind = "clarifier-batch"
	KindStageResult    Kind = "stage-result"
	KindStatus         Kind = "status"
	KindProgress       Kind = "progress"
	KindQuestion       Kind = "question"
	KindComplete       Kind = "complete"
	KindError          Kind = "error"
)

// Event is a decoded, immutable record from one workflow invocation.
// The set of implementations is closed; consumers switch on the concrete type.
type Event interface {
	Kind() Kind
	Base() EventBase
	sealed()
}

// EventBase contains common fields for all events.
type EventBase struct {
	// SessionID is empty when the session is implied by the channel.
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (b EventBase) Base() EventBase { return b }
func (EventBase) sealed()           {}

// StartEvent acknowledges a workflow invocation, optionally carrying the
// server-assigned session id.
type StartEvent struct {
	EventBase
}

// ClarifierBatchEvent carries one round of clarification questions.
// Questions already answered server-side arrive with Answered set.
type ClarifierBatchEvent struct {
	EventBase
	Questions []QA `json:"questions"`
	Done      bool `json:"done"`
}

// StageResultEvent carries the payload of one pipeline stage.
type StageResultEvent struct {
	EventBase
	Stage   string         `json:"stage"`
	Payload map[string]any `json:"payload"`
}

// Connectivity describes a transport transition reported by a channel.
type Connectivity string

const (
	Connected    Connectivity = "connected"
	Disconnected Connectivity = "disconnected"
)

// StatusEvent is an informational message. Channels also use it to report
// connectivity transitions, in which case Connectivity is set.
type StatusEvent struct {
	EventBase
	Message      string       `json:"message,omitempty"`
	Connectivity Connectivity `json:"connectivity,omitempty"`
	// Code is the close code for Disconnected transitions.
	Code int `json:"code,omitempty"`
	// Final marks a Disconnected transition that no reconnect will follow.
	Final bool `json:"final,omitempty"`
}

// ProgressEvent is an informational progress message.
type ProgressEvent struct {
	EventBase
	Message string `json:"message"`
}

// QuestionEvent asks a single clarification question.
type QuestionEvent struct {
	EventBase
	Question string `json:"question"`
}

// CompleteEvent carries the final narrative summary.
type CompleteEvent struct {
	EventBase
	Summary string `json:"summary"`
}

// ErrorEvent reports a failure. Err is one of the typed errors of this package.
type ErrorEvent struct {
	EventBase
	Err error `json:"-"`
}

// Message returns the error text.
func (e ErrorEvent) Message() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

func (StartEvent) Kind() Kind          { return KindStart }
func (ClarifierBatchEvent) Kind() Kind { return KindClarifierBatch }
func (StageResultEvent) Kind() Kind    { return KindStageResult }
func (StatusEvent) Kind() Kind         { return KindStatus }
func (ProgressEvent) Kind() Kind       { return KindProgress }
func (QuestionEvent) Kind() Kind       { return KindQuestion }
func (CompleteEvent) Kind() Kind       { return KindComplete }
func (ErrorEvent) Kind() Kind          { return KindError }

// Envelope is the serialisable form of an Event, used when events leave the
// process (event mirrors, JSON console output).
type Envelope struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Wrap builds the Envelope of an event, filling in the session id when the
// event itself does not carry one.
func Wrap(sessionID string, ev Event) Envelope {
	base := ev.Base()
	if base.SessionID != "" {
		sessionID = base.SessionID
	}
	env := Envelope{
		Kind:      ev.Kind(),
		SessionID: sessionID,
		Timestamp: base.Timestamp,
	}
	switch e := ev.(type) {
	case StartEvent:
	case ClarifierBatchEvent:
		env.Payload = map[string]any{"questions": e.Questions, "done": e.Done}
	case StageResultEvent:
		env.Payload = map[string]any{"stage": e.Stage, "data": e.Payload}
	case StatusEvent:
		p := map[string]any{"message": e.Message}
		if e.Connectivity != "" {
			p["connectivity"] = e.Connectivity
			p["code"] = e.Code
			if e.Final {
				p["final"] = true
			}
		}
		env.Payload = p
	case ProgressEvent:
		env.Payload = map[string]any{"message": e.Message}
	case QuestionEvent:
		env.Payload = map[string]any{"question": e.Question}
	case CompleteEvent:
		env.Payload = map[string]any{"summary": e.Summary}
	case ErrorEvent:
		env.Payload = map[string]any{"message": e.Message()}
	}
	return env
}
