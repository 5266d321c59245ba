package backend_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/prdflow/internal/backend"
	"github.com/aretw0/prdflow/pkg/adapters/memory"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/frame"
	"github.com/aretw0/prdflow/pkg/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, opts ...backend.Option) (*backend.Server, *httptest.Server) {
	t.Helper()
	m := backend.NewManager(memory.NewStore())
	s := backend.NewServer(m, opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// streamEvents decodes an NDJSON response the way the client does.
func streamEvents(t *testing.T, body io.Reader) []domain.Event {
	t.Helper()
	dec := frame.NewDecoder(body)
	var out []domain.Event
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, wire.DecodeRecord(rec, time.Now()))
	}
}

func kinds(evs []domain.Event) []domain.Kind {
	out := make([]domain.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind()
	}
	return out
}

func TestServer_ClarifierRoundTrip(t *testing.T) {
	_, srv := newServer(t)

	var start wire.StartResponse
	decodeBody(t, postJSON(t, srv.URL+"/start_conversation", wire.StartRequest{TextInput: "a fitness app"}), &start)
	assert.Equal(t, "start", start.Type)
	require.NotEmpty(t, start.ThreadID)

	resp := postJSON(t, srv.URL+"/continue_clarifier", wire.ContinueRequest{ThreadID: start.ThreadID, Answers: []string{"runners"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cont wire.ContinueResponse
	decodeBody(t, resp, &cont)
	parsed, err := wire.ParseContinuation(cont.Content)
	require.NoError(t, err)
	assert.False(t, parsed.Done)
	assert.Equal(t, "a fitness app", parsed.Questions[0].Answer)
	assert.Equal(t, "runners", parsed.Questions[1].Answer)
	assert.True(t, parsed.Questions[2].Pending())

	stateResp, err := http.Get(srv.URL + "/get_state/" + start.ThreadID)
	require.NoError(t, err)
	defer stateResp.Body.Close()
	var state map[string]any
	decodeBody(t, stateResp, &state)
	assert.Equal(t, false, state["clarifier_done"])
	assert.Equal(t, 2.0, state["current_round"])
}

func TestServer_Errors(t *testing.T) {
	_, srv := newServer(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		detail string
	}{
		{"empty prompt", "/start_conversation", wire.StartRequest{}, http.StatusBadRequest, "text_input is required"},
		{"unknown thread", "/continue_clarifier", wire.ContinueRequest{ThreadID: "nope"}, http.StatusNotFound, "Conversation not found"},
		{"stream unknown thread", "/run_workflow_stream", wire.StreamRequest{ThreadID: "nope"}, http.StatusNotFound, "Conversation not found"},
		{"bad body", "/run_workflow_stream", "not an object", http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			be := wire.ParseErrorBody(resp.StatusCode, body)
			assert.Equal(t, tt.detail, be.Message)
		})
	}
}

func TestServer_OneShotStream(t *testing.T) {
	_, srv := newServer(t)

	resp := postJSON(t, srv.URL+"/run_workflow_stream", wire.StreamRequest{TextInput: "a fitness app"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	evs := streamEvents(t, resp.Body)
	assert.Equal(t, []domain.Kind{
		domain.KindStart,
		domain.KindClarifierBatch,
		domain.KindStageResult, domain.KindStageResult, domain.KindStageResult, domain.KindStageResult,
		domain.KindComplete,
		domain.KindStageResult, // tts
		domain.KindError,       // merged result, no step
	}, kinds(evs))

	batch := evs[1].(domain.ClarifierBatchEvent)
	assert.True(t, batch.Done)
	for _, q := range batch.Questions {
		assert.False(t, q.Pending())
	}
	assert.ErrorIs(t, evs[8].(domain.ErrorEvent).Err, domain.ErrDecode)
}

func TestServer_ThreadStreamPhases(t *testing.T) {
	_, srv := newServer(t)

	var start wire.StartResponse
	decodeBody(t, postJSON(t, srv.URL+"/start_conversation", wire.StartRequest{TextInput: "app"}), &start)

	first := postJSON(t, srv.URL+"/run_workflow_stream", wire.StreamRequest{ThreadID: start.ThreadID})
	assert.Equal(t, []domain.Kind{domain.KindStart, domain.KindClarifierBatch}, kinds(streamEvents(t, first.Body)))

	second := postJSON(t, srv.URL+"/run_workflow_stream", wire.StreamRequest{
		ThreadID: start.ThreadID,
		Answers:  []string{"a2", "a3", "a4", "a5"},
	})
	evs := streamEvents(t, second.Body)
	require.NotEmpty(t, evs)
	assert.Equal(t, domain.KindStageResult, evs[0].Kind())
	assert.Equal(t, domain.StageProduct, evs[0].(domain.StageResultEvent).Stage)
}

func TestServer_BackgroundRun(t *testing.T) {
	s, srv := newServer(t, backend.WithResultDelay(0))

	var start wire.StartResponse
	decodeBody(t, postJSON(t, srv.URL+"/start_conversation", wire.StartRequest{TextInput: "app"}), &start)

	resp := postJSON(t, srv.URL+"/run_workflow", wire.ContinueRequest{ThreadID: start.ThreadID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	postJSON(t, srv.URL+"/continue_clarifier", wire.ContinueRequest{ThreadID: start.ThreadID, Answers: []string{"a", "b", "c", "d"}})
	resp = postJSON(t, srv.URL+"/run_workflow", wire.ContinueRequest{ThreadID: start.ThreadID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s.Wait()

	res, err := http.Get(srv.URL + "/get_result/" + start.ThreadID)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var result map[string]any
	decodeBody(t, res, &result)
	assert.Equal(t, "Health & Fitness Enthusiasts", result["segment"])
	assert.NotEmpty(t, result["summary"])
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestServer_Health(t *testing.T) {
	_, srv := newServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, down := newServer(t, backend.WithPinger(pingFunc(func(context.Context) error {
		return errors.New("redis unreachable")
	})))
	resp2, err := http.Get(down.URL + "/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestServer_SocketConversation(t *testing.T) {
	_, srv := newServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/c1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() domain.Event {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		return wire.DecodeMessage(raw, time.Now())
	}

	assert.Equal(t, domain.KindStatus, read().Kind())
	assert.Equal(t, domain.KindError, read().Kind(), "ping is not a client message type")

	require.NoError(t, conn.WriteJSON(wire.PromptMessage("a fitness app")))

	var (
		answered int
		stages   []string
		summary  string
	)
	for summary == "" {
		switch ev := read().(type) {
		case domain.QuestionEvent:
			answered++
			require.NoError(t, conn.WriteJSON(wire.AnswerMessage("answer")))
		case domain.StageResultEvent:
			stages = append(stages, ev.Stage)
		case domain.CompleteEvent:
			summary = ev.Summary
		}
	}

	assert.Equal(t, len(backend.ClarifierQuestions)-1, answered)
	assert.Equal(t, []string{"product", "customer", "engineer", "risk", "final"}, stages)
}
