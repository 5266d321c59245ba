package console

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/prdflow/pkg/channel"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedWorkflow asks two questions, then runs one stage and completes.
type scriptedWorkflow struct {
	openErr error

	mu      sync.Mutex
	input   string
	answers []string
}

func (w *scriptedWorkflow) Open(ctx context.Context, id, input string, deliver channel.Listener) (string, error) {
	if w.openErr != nil {
		return "", w.openErr
	}
	w.mu.Lock()
	w.input = input
	w.mu.Unlock()
	deliver(ctx, domain.StartEvent{})
	deliver(ctx, domain.ClarifierBatchEvent{Questions: []domain.QA{{Question: "Q1"}, {Question: "Q2"}}})
	return "", nil
}

func (w *scriptedWorkflow) Answer(ctx context.Context, id string, answers []string) ([]domain.Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.answers = append(w.answers, answers...)
	return nil, nil
}

func (w *scriptedWorkflow) Execute(ctx context.Context, id, input string, answers []string, deliver channel.Listener) error {
	deliver(ctx, domain.StageResultEvent{Stage: domain.StageProduct, Payload: map[string]any{"vision": "Track workouts"}})
	deliver(ctx, domain.CompleteEvent{Summary: "Done"})
	return nil
}

func (w *scriptedWorkflow) Persistent() bool            { return true }
func (w *scriptedWorkflow) Close(context.Context) error { return nil }

func newDriven(h Handler, wf session.Workflow) (*Driver, *session.Session) {
	d := NewDriver(h)
	s := session.New(wf, session.WithHooks(d.Hooks()))
	return d, s
}

func TestDriver_TextRun(t *testing.T) {
	wf := &scriptedWorkflow{}
	out := &bytes.Buffer{}
	h := NewTextHandler(strings.NewReader("fitness app\nA1\n\nA2\n"), out)
	d, s := newDriven(h, wf)

	snap, err := d.Run(context.Background(), s, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StateComplete, snap.State)

	wf.mu.Lock()
	assert.Equal(t, "fitness app", wf.input)
	assert.Equal(t, []string{"A1", "A2"}, wf.answers)
	wf.mu.Unlock()

	text := out.String()
	assert.Contains(t, text, PromptQuestion)
	assert.Contains(t, text, "2 question(s)")
	assert.Contains(t, text, "Q1")
	assert.Contains(t, text, "✓ product")
	assert.Contains(t, text, "**Answer:** A2")
	assert.Contains(t, text, "Done")
}

func TestDriver_RejectedInputIsAskedAgain(t *testing.T) {
	wf := &scriptedWorkflow{}
	out := &bytes.Buffer{}
	h := NewTextHandler(strings.NewReader("a much too long idea\nnotes\nfar too long\nA1\nA2\n"), out)
	d := NewDriver(h, WithInputLimits(InputLimits{Idea: 8, Answer: 4}))
	s := session.New(wf, session.WithHooks(d.Hooks()))

	snap, err := d.Run(context.Background(), s, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StateComplete, snap.State)

	wf.mu.Lock()
	assert.Equal(t, "notes", wf.input)
	assert.Equal(t, []string{"A1", "A2"}, wf.answers)
	wf.mu.Unlock()

	text := out.String()
	assert.Contains(t, text, "product idea too long (20 bytes, limit 8)")
	assert.Contains(t, text, "answer too long (12 bytes, limit 4)")
	assert.Equal(t, 2, strings.Count(text, PromptQuestion))
	assert.Equal(t, 3, strings.Count(text, "Q1"), "asked twice, then listed in the report")
}

func TestDriver_OversizedArgumentRejected(t *testing.T) {
	wf := &scriptedWorkflow{}
	d := NewDriver(NewTextHandler(strings.NewReader(""), &bytes.Buffer{}), WithInputLimits(InputLimits{Idea: 3}))
	s := session.New(wf, session.WithHooks(d.Hooks()))

	_, err := d.Run(context.Background(), s, "fitness app")
	assert.ErrorIs(t, err, ErrInputTooLarge)
	assert.Equal(t, domain.StateIdle, s.State())
}

func TestDriver_JSONRun(t *testing.T) {
	wf := &scriptedWorkflow{}
	out := &bytes.Buffer{}
	h := NewJSONHandler(strings.NewReader("\"A1\"\nA2\n"), out)
	d, s := newDriven(h, wf)

	snap, err := d.Run(context.Background(), s, "fitness app")
	require.NoError(t, err)
	assert.Equal(t, domain.StateComplete, snap.State)

	var lines []Line
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var l Line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.NotEmpty(t, lines)

	var questions []string
	diffs := 0
	for _, l := range lines {
		switch l.Type {
		case LineQuestion:
			questions = append(questions, l.Question)
		case LineDiff:
			diffs++
		}
	}
	assert.Equal(t, []string{"Q1", "Q2"}, questions)
	// starting, clarifying, running, complete
	assert.Equal(t, 4, diffs)

	last := lines[len(lines)-1]
	assert.Equal(t, LineResult, last.Type)
	require.NotNil(t, last.Session)
	assert.Equal(t, domain.StateComplete, last.Session.State)
	assert.Contains(t, last.Report, "**Answer:** A1")
	assert.Empty(t, last.Error)
}

func TestDriver_StartFailurePresented(t *testing.T) {
	wf := &scriptedWorkflow{openErr: &domain.BackendError{StatusCode: 503, Message: "offline"}}
	out := &bytes.Buffer{}
	h := NewJSONHandler(strings.NewReader(""), out)
	d, s := newDriven(h, wf)

	snap, err := d.Run(context.Background(), s, "app")
	assert.ErrorIs(t, err, domain.ErrBackend)
	assert.Equal(t, domain.StateFailed, snap.State)

	var result Line
	for _, raw := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var l Line
		require.NoError(t, json.Unmarshal([]byte(raw), &l))
		if l.Type == LineResult {
			result = l
		}
	}
	assert.Contains(t, result.Error, "offline")
}

func TestDriver_InputEOF(t *testing.T) {
	wf := &scriptedWorkflow{}
	h := NewTextHandler(strings.NewReader("A1\n"), io.Discard)
	d, s := newDriven(h, wf)

	_, err := d.Run(context.Background(), s, "app")
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, domain.StateClarifying, s.State())
}

func TestDriver_CancelWhileAsking(t *testing.T) {
	wf := &scriptedWorkflow{}
	pr, pw := io.Pipe()
	defer pw.Close()
	h := NewTextHandler(pr, io.Discard)
	d, s := newDriven(h, wf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx, s, "app")
		done <- err
	}()

	require.Eventually(t, func() bool { return s.State() == domain.StateClarifying }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
