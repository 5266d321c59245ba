package console

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/report"
	"github.com/aretw0/prdflow/pkg/session"
)

// Line types written by JSONHandler.
const (
	LineEvent    = "event"
	LineDiff     = "diff"
	LineQuestion = "question"
	LineResult   = "result"
)

// Line is one JSON-lines record written by JSONHandler.
type Line struct {
	Type     string              `json:"type"`
	Event    *domain.Envelope    `json:"event,omitempty"`
	Diff     *domain.SessionDiff `json:"diff,omitempty"`
	Question string              `json:"question,omitempty"`
	Session  *domain.Session     `json:"session,omitempty"`
	Report   string              `json:"report,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// JSONHandler speaks JSON lines for machine consumers: one Line per event,
// state diff, question and result. Input accepts a JSON string or raw text.
type JSONHandler struct {
	Reader  *bufio.Reader
	Encoder *json.Encoder

	mu   sync.Mutex
	last *domain.Session
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) emit(l Line) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Encoder.Encode(l)
}

func (h *JSONHandler) sessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return ""
	}
	return h.last.ID
}

func (h *JSONHandler) Event(ctx context.Context, ev domain.Event) {
	env := domain.Wrap(h.sessionID(), ev)
	_ = h.emit(Line{Type: LineEvent, Event: &env})
}

// Transition writes the diff against the previous transition's snapshot.
func (h *JSONHandler) Transition(ctx context.Context, t session.Transition) {
	snap := t.Session
	h.mu.Lock()
	diff := domain.Diff(h.last, &snap)
	h.last = &snap
	h.mu.Unlock()
	if diff == nil {
		return
	}
	_ = h.emit(Line{Type: LineDiff, Diff: diff})
}

func (h *JSONHandler) Ask(ctx context.Context, question string) error {
	return h.emit(Line{Type: LineQuestion, Question: question})
}

func (h *JSONHandler) Input(ctx context.Context) (string, error) {
	text, err := h.Reader.ReadString('\n')
	if err != nil && (err != io.EOF || text == "") {
		return "", err
	}
	text = strings.TrimSpace(text)

	var val string
	if err := json.Unmarshal([]byte(text), &val); err == nil {
		text = val
	}
	return text, nil
}

func (h *JSONHandler) Result(ctx context.Context, s domain.Session, err error) error {
	l := Line{Type: LineResult, Session: &s, Report: report.Render(s)}
	if err != nil {
		l.Error = err.Error()
	}
	return h.emit(l)
}
