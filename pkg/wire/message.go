package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
)

// Socket message types.
const (
	TypeConnect  = "connect"
	TypeStatus   = "status"
	TypeProgress = "progress"
	TypeQuestion = "question"
	TypeResult   = "result"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Message is the envelope of every message on a persistent connection.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

type resultPayload struct {
	Agent string         `mapstructure:"agent"`
	Data  map[string]any `mapstructure:"data"`
}

// DecodeMessage maps one socket message to an event.
func DecodeMessage(raw []byte, now time.Time) domain.Event {
	base := domain.EventBase{Timestamp: now}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return decodeFailure(raw, "invalid json", err, base)
	}

	switch m.Type {
	case TypeConnect:
		msg := stringField(m.Data, "message")
		if msg == "" {
			msg = "connected"
		}
		return domain.StatusEvent{EventBase: base, Message: msg}
	case TypeStatus:
		return domain.StatusEvent{EventBase: base, Message: stringField(m.Data, "message")}
	case TypeProgress:
		return domain.ProgressEvent{EventBase: base, Message: stringField(m.Data, "message")}
	case TypeQuestion:
		q := stringField(m.Data, "question")
		if q == "" {
			return decodeFailure(raw, "question message without question", nil, base)
		}
		return domain.QuestionEvent{EventBase: base, Question: q}
	case TypeResult:
		var p resultPayload
		if err := decodeMap(m.Data, &p); err != nil {
			return decodeFailure(raw, "malformed result payload", err, base)
		}
		if p.Agent == "" {
			return decodeFailure(raw, "result message without agent", nil, base)
		}
		switch p.Agent {
		case domain.StepClarifier:
			var c clarifierPayload
			if err := decodeMap(p.Data, &c); err != nil {
				return decodeFailure(raw, "malformed clarifier payload", err, base)
			}
			return domain.ClarifierBatchEvent{EventBase: base, Questions: c.questions(), Done: c.Done}
		case domain.StepSummary:
			return domain.CompleteEvent{EventBase: base, Summary: stringField(p.Data, "summary")}
		default:
			return domain.StageResultEvent{EventBase: base, Stage: p.Agent, Payload: p.Data}
		}
	case TypeComplete:
		return domain.CompleteEvent{EventBase: base, Summary: stringField(m.Data, "summary")}
	case TypeError:
		msg := stringField(m.Data, "message")
		if msg == "" {
			msg = "backend reported an error"
		}
		return domain.ErrorEvent{EventBase: base, Err: &domain.BackendError{Message: msg}}
	case "":
		return decodeFailure(raw, "message has no type", nil, base)
	default:
		return decodeFailure(raw, fmt.Sprintf("unknown message type %q", m.Type), nil, base)
	}
}

// Outbound is a client-to-server message on a persistent connection.
// Exactly one field is set.
type Outbound struct {
	Prompt string `json:"prompt,omitempty"`
	Answer string `json:"answer,omitempty"`
}

// PromptMessage builds the message that starts a workflow.
func PromptMessage(input string) Outbound { return Outbound{Prompt: input} }

// AnswerMessage builds the message that answers the current question.
func AnswerMessage(text string) Outbound { return Outbound{Answer: text} }

// Encode builds the server-side form of an event. It is the inverse of
// DecodeMessage for every kind a backend sends.
func Encode(ev domain.Event) Message {
	switch e := ev.(type) {
	case domain.StatusEvent:
		return Message{Type: TypeStatus, Data: map[string]any{"message": e.Message}}
	case domain.ProgressEvent:
		return Message{Type: TypeProgress, Data: map[string]any{"message": e.Message}}
	case domain.QuestionEvent:
		return Message{Type: TypeQuestion, Data: map[string]any{"question": e.Question}}
	case domain.ClarifierBatchEvent:
		resp := make([]any, 0, len(e.Questions))
		for _, q := range e.Questions {
			resp = append(resp, map[string]any{"question": q.Question, "answer": q.Answer})
		}
		return Message{Type: TypeResult, Data: map[string]any{
			"agent": domain.StepClarifier,
			"data":  map[string]any{"done": e.Done, "resp": resp},
		}}
	case domain.StageResultEvent:
		return Message{Type: TypeResult, Data: map[string]any{"agent": e.Stage, "data": e.Payload}}
	case domain.CompleteEvent:
		return Message{Type: TypeComplete, Data: map[string]any{"summary": e.Summary}}
	case domain.ErrorEvent:
		return Message{Type: TypeError, Data: map[string]any{"message": e.Message()}}
	case domain.StartEvent:
		return Message{Type: TypeConnect, Data: map[string]any{"message": "connected"}}
	default:
		return Message{Type: TypeError, Data: map[string]any{"message": "unsupported event"}}
	}
}
