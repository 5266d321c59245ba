package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/wire"
)

var errClarifierIncomplete = errors.New("clarifier not completed")

// ndjson writes one JSON document per line, flushing after each.
type ndjson struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
}

func newNDJSON(w http.ResponseWriter) *ndjson {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	f, _ := w.(http.Flusher)
	return &ndjson{w: w, flusher: f, enc: json.NewEncoder(w)}
}

func (n *ndjson) write(v any) error {
	// Encode appends the newline.
	if err := n.enc.Encode(v); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}

func record(step string, c *domain.Conversation, data map[string]any, at time.Time) wire.StreamRecord {
	return wire.StreamRecord{
		Step:      step,
		Status:    "success",
		Data:      data,
		ThreadID:  c.ID,
		Timestamp: float64(at.UnixNano()) / 1e9,
	}
}

// runWorkflowStream streams a workflow run as NDJSON.
//
// Without a thread id it runs the whole workflow in one response with the
// clarification answered by canned replies. With a thread id it streams the
// clarification round while questions are pending, and the pipeline once
// they are all answered.
func (s *Server) runWorkflowStream(w http.ResponseWriter, r *http.Request) {
	var req wire.StreamRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	var (
		c   *domain.Conversation
		err error
	)
	threadID := req.ThreadID
	oneShot := threadID == ""
	if oneShot {
		input := strings.TrimSpace(req.TextInput)
		if input == "" {
			writeError(w, http.StatusBadRequest, "text_input is required")
			return
		}
		c, err = s.manager.StartAnswered(ctx, input)
	} else {
		c, err = s.manager.Update(ctx, threadID, func(c *domain.Conversation) error {
			if !c.Done && len(req.Answers) > 0 {
				c.Fill(req.Answers)
			}
			return nil
		})
	}
	if err != nil {
		s.threadError(w, err)
		return
	}

	out := newNDJSON(w)
	now := time.Now()
	var steps []wire.StreamRecord
	if oneShot || !c.Done {
		steps = append(steps,
			record("start", c, map[string]any{"thread_id": c.ID}, now),
			record(domain.StepClarifier, c, clarifierData(c), now.Add(time.Second)),
		)
	}
	if c.Done {
		for i, st := range pipeline() {
			steps = append(steps, record(st.Stage, c, st.Data, now.Add(time.Duration(i+2)*time.Second)))
		}
		steps = append(steps,
			record(domain.StepSummary, c, map[string]any{"summary": mockSummary}, now.Add(6*time.Second)),
			record("tts", c, map[string]any{"tts_file": mockSpeech}, now.Add(7*time.Second)),
		)
	}

	for i, rec := range steps {
		if i > 0 && !s.pause(ctx) {
			return
		}
		if err := out.write(rec); err != nil {
			s.logger.Debug("stream client went away", "thread_id", c.ID, "err", err)
			return
		}
	}
	if !c.Done {
		return
	}

	c, err = s.manager.Update(ctx, c.ID, func(c *domain.Conversation) error {
		c.Result = finalResult(c)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to store result", "err", err)
		return
	}
	// The merged result trails the stream without a step field.
	if err := out.write(c.Result); err != nil {
		s.logger.Debug("stream client went away", "thread_id", c.ID, "err", err)
	}
}
