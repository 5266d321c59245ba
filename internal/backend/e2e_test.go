package backend_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/prdflow/internal/backend"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/report"
	"github.com/aretw0/prdflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// answerAll answers every question the session asks until it leaves
// clarifying.
func answerAll(t *testing.T, s *session.Session) int {
	t.Helper()
	n := 0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		switch s.State() {
		case domain.StateClarifying:
			if _, ok := s.Current(); ok {
				require.NoError(t, s.SubmitAnswer(context.Background(), "answer"))
				n++
				continue
			}
		case domain.StateStarting:
		default:
			return n
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never left clarification")
	return n
}

func wait(t *testing.T, s *session.Session) domain.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := s.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestEndToEnd_OneShotStream(t *testing.T) {
	_, srv := newServer(t)
	s := session.New(session.NewStreamWorkflow(session.StreamConfig{BaseURL: srv.URL}))
	defer s.Close(context.Background())

	require.NoError(t, s.Start(context.Background(), "a fitness app"))
	snap := wait(t, s)

	assert.Equal(t, domain.StateComplete, snap.State)
	assert.Equal(t, []domain.State{domain.StateStarting, domain.StateRunning, domain.StateComplete}, snap.History)
	assert.NotContains(t, snap.Stages, "tts", "stages after the summary are rejected")

	out := report.Render(snap)
	assert.Contains(t, out, "Fitness Tracker Pro")
	assert.Contains(t, out, "**Segment:** Health & Fitness Enthusiasts")
	assert.Contains(t, out, "a fitness app")
}

func TestEndToEnd_ThreadedStream(t *testing.T) {
	_, srv := newServer(t)
	wf := session.NewStreamWorkflow(session.StreamConfig{
		BaseURL:      srv.URL,
		StartPath:    "/start_conversation",
		ContinuePath: "/continue_clarifier",
		PipelinePath: "/run_workflow_stream",
	})
	s := session.New(wf)
	defer s.Close(context.Background())

	require.NoError(t, s.Start(context.Background(), "a fitness app"))
	assert.Equal(t, len(backend.ClarifierQuestions)-1, answerAll(t, s))

	snap := wait(t, s)
	assert.Equal(t, domain.StateComplete, snap.State)
	assert.Len(t, snap.Answers(), len(backend.ClarifierQuestions))
	for _, st := range domain.CanonicalStages() {
		assert.Contains(t, snap.Stages, st)
	}
}

func TestEndToEnd_Socket(t *testing.T) {
	_, srv := newServer(t)
	wf := session.NewSocketWorkflow(session.SocketConfig{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		ClientID: "e2e",
	})
	s := session.New(wf)
	defer s.Close(context.Background())

	require.NoError(t, s.Start(context.Background(), "a fitness app"))
	assert.Equal(t, len(backend.ClarifierQuestions)-1, answerAll(t, s))

	snap := wait(t, s)
	assert.Equal(t, domain.StateComplete, snap.State)
	assert.Contains(t, snap.Stages, "final")
	assert.Contains(t, report.Render(snap), "## Additional Stages")
}
