package wire

import (
	"fmt"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/frame"
)

// StreamRecord is one line of a streamed workflow response.
type StreamRecord struct {
	Step      string         `mapstructure:"step" json:"step"`
	Status    string         `mapstructure:"status" json:"status,omitempty"`
	Data      map[string]any `mapstructure:"data" json:"data,omitempty"`
	Error     any            `mapstructure:"error" json:"error,omitempty"`
	SessionID string         `mapstructure:"session_id" json:"session_id,omitempty"`
	ThreadID  string         `mapstructure:"thread_id" json:"thread_id,omitempty"`
	Timestamp any            `mapstructure:"timestamp" json:"timestamp,omitempty"`
}

// DecodeRecord maps a framed record to an event. now stamps events whose
// record carries no usable timestamp.
func DecodeRecord(rec frame.Record, now time.Time) domain.Event {
	base := domain.EventBase{Timestamp: now}
	if rec.Err != nil {
		return domain.ErrorEvent{EventBase: base, Err: rec.Err}
	}

	obj, ok := rec.Value.(map[string]any)
	if !ok {
		return decodeFailure(rec.Line, "record is not an object", nil, base)
	}

	var r StreamRecord
	if err := decodeMap(obj, &r); err != nil {
		return decodeFailure(rec.Line, "malformed record", err, base)
	}
	if r.Step == "" {
		return decodeFailure(rec.Line, "record has no step", nil, base)
	}

	base.Timestamp = parseTimestamp(r.Timestamp, now)
	base.SessionID = r.sessionID()

	if r.Status == "error" || r.Error != nil {
		msg := errorMessage(r.Error)
		if msg == "" {
			msg = stringField(r.Data, "message")
		}
		if msg == "" {
			msg = fmt.Sprintf("step %s failed", r.Step)
		}
		return domain.ErrorEvent{EventBase: base, Err: &domain.BackendError{Message: msg}}
	}

	switch r.Step {
	case domain.StepStart:
		return domain.StartEvent{EventBase: base}
	case domain.StepClarifier:
		var p clarifierPayload
		if err := decodeMap(r.Data, &p); err != nil {
			return decodeFailure(rec.Line, "malformed clarifier payload", err, base)
		}
		return domain.ClarifierBatchEvent{EventBase: base, Questions: p.questions(), Done: p.Done}
	case domain.StepSummary:
		return domain.CompleteEvent{EventBase: base, Summary: stringField(r.Data, "summary")}
	default:
		return domain.StageResultEvent{EventBase: base, Stage: r.Step, Payload: r.Data}
	}
}

func (r StreamRecord) sessionID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	if r.ThreadID != "" {
		return r.ThreadID
	}
	return stringField(r.Data, "thread_id")
}
