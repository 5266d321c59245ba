package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHandler_Events(t *testing.T) {
	out := &bytes.Buffer{}
	h := NewTextHandler(strings.NewReader(""), out)
	ctx := context.Background()

	h.Event(ctx, domain.StatusEvent{Connectivity: domain.Connected})
	h.Event(ctx, domain.StatusEvent{Connectivity: domain.Disconnected, Code: 1006})
	h.Event(ctx, domain.StatusEvent{Message: "Generating Product response..."})
	h.Event(ctx, domain.ErrorEvent{Err: domain.NewDecodeError([]byte("{"), "invalid json", nil)})
	h.Event(ctx, domain.ErrorEvent{Err: &domain.BackendError{Message: "agents offline"}})

	text := out.String()
	assert.Contains(t, text, "connected")
	assert.Contains(t, text, "code 1006")
	assert.Contains(t, text, "agents offline")
	assert.NotContains(t, text, "Generating Product")
	assert.NotContains(t, text, "invalid json")
}

func TestTextHandler_VerboseEvents(t *testing.T) {
	out := &bytes.Buffer{}
	h := NewTextHandler(strings.NewReader(""), out, WithVerbose(true))
	ctx := context.Background()

	h.Event(ctx, domain.StatusEvent{Message: "Generating Product response..."})
	h.Event(ctx, domain.ProgressEvent{Message: "Clarifier started"})
	h.Event(ctx, domain.ErrorEvent{Err: domain.NewDecodeError([]byte("{"), "invalid json", nil)})

	text := out.String()
	assert.Contains(t, text, "Generating Product")
	assert.Contains(t, text, "Clarifier started")
	assert.Contains(t, text, "invalid json")
}

func TestTextHandler_TransitionProgress(t *testing.T) {
	out := &bytes.Buffer{}
	h := NewTextHandler(strings.NewReader(""), out)
	snap := *domain.NewSession("s1")
	snap.State = domain.StateRunning

	h.Transition(context.Background(), session.Transition{From: domain.StateStarting, To: domain.StateClarifying, Session: snap})
	assert.Empty(t, out.String())

	h.Transition(context.Background(), session.Transition{From: domain.StateClarifying, To: domain.StateRunning, Session: snap})
	assert.Contains(t, out.String(), "[x] clarifier")
}

func TestTextHandler_ResultRenderer(t *testing.T) {
	out := &bytes.Buffer{}
	h := NewTextHandler(strings.NewReader(""), out, WithTextHandlerRenderer(func(s string) (string, error) {
		return "RENDERED\n" + s, nil
	}))
	snap := *domain.NewSession("s1")
	snap.State = domain.StateFailed

	require.NoError(t, h.Result(context.Background(), snap, errors.New("stream dropped")))
	text := out.String()
	assert.Contains(t, text, "Workflow failed: stream dropped")
	assert.Contains(t, text, "RENDERED")
	assert.Contains(t, text, "## Product Analysis")
}

func TestJSONHandler_Input(t *testing.T) {
	h := NewJSONHandler(strings.NewReader("\"quoted answer\"\nraw answer\nlast"), &bytes.Buffer{})
	ctx := context.Background()

	got, err := h.Input(ctx)
	require.NoError(t, err)
	assert.Equal(t, "quoted answer", got)

	got, err = h.Input(ctx)
	require.NoError(t, err)
	assert.Equal(t, "raw answer", got)

	got, err = h.Input(ctx)
	require.NoError(t, err)
	assert.Equal(t, "last", got)

	_, err = h.Input(ctx)
	assert.Error(t, err)
}

func TestJSONHandler_EventCarriesSessionID(t *testing.T) {
	out := &bytes.Buffer{}
	h := NewJSONHandler(strings.NewReader(""), out)
	ctx := context.Background()

	h.Transition(ctx, session.Transition{From: domain.StateIdle, To: domain.StateStarting, Session: *domain.NewSession("s-42")})
	h.Event(ctx, domain.ProgressEvent{Message: "working"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"diff"`)
	assert.Contains(t, lines[1], `"session_id":"s-42"`)
	assert.Contains(t, lines[1], `"kind":"progress"`)
}
