package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/channel"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/wire"
)

// Workflow binds a Session to a backend transport.
type Workflow interface {
	// Open invokes the workflow for input and routes its events to deliver.
	// It returns the server-assigned session id, or "" to keep sessionID.
	Open(ctx context.Context, sessionID, input string, deliver channel.Listener) (string, error)
	// Answer forwards answers for the oldest pending questions. It may return
	// follow-up events (for instance a new clarifier batch) to apply before
	// the answers are recorded.
	Answer(ctx context.Context, sessionID string, answers []string) ([]domain.Event, error)
	// Execute runs the pipeline once clarification is complete.
	Execute(ctx context.Context, sessionID, input string, answers []string, deliver channel.Listener) error
	// Persistent reports whether the transport outlives one invocation.
	Persistent() bool
	// Close releases the transport.
	Close(ctx context.Context) error
}

// StreamConfig describes an HTTP backend speaking newline-delimited JSON.
type StreamConfig struct {
	BaseURL string `yaml:"base_url"`
	// StreamPath receives the initial invocation.
	StreamPath string `yaml:"stream_path"`
	// StartPath, when set, is called first to obtain a server-assigned id.
	StartPath string `yaml:"start_path"`
	// ContinuePath, when set, receives each answer and may return follow-up questions.
	ContinuePath string `yaml:"continue_path"`
	// PipelinePath, when set, is streamed once clarification completes.
	// Without it the initial stream carries the whole run.
	PipelinePath string `yaml:"pipeline_path"`
}

// DefaultStreamPath is the workflow endpoint of the reference backend.
const DefaultStreamPath = "/run_workflow_stream"

// WorkflowOption configures a workflow.
type WorkflowOption func(*workflowOptions)

type workflowOptions struct {
	client   *http.Client
	logger   *slog.Logger
	channels []channel.Option
}

func newWorkflowOptions(opts []WorkflowOption) workflowOptions {
	o := workflowOptions{client: http.DefaultClient, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithHTTPClient sets the client used for requests and streams.
func WithHTTPClient(c *http.Client) WorkflowOption {
	return func(o *workflowOptions) {
		o.client = c
		o.channels = append(o.channels, channel.WithHTTPClient(c))
	}
}

// WithWorkflowLogger configures a logger for the workflow and its channels.
func WithWorkflowLogger(l *slog.Logger) WorkflowOption {
	return func(o *workflowOptions) {
		o.logger = l
		o.channels = append(o.channels, channel.WithLogger(l))
	}
}

// WithChannelOptions passes options to every channel the workflow opens.
func WithChannelOptions(opts ...channel.Option) WorkflowOption {
	return func(o *workflowOptions) { o.channels = append(o.channels, opts...) }
}

// StreamWorkflow runs a workflow over streamed HTTP responses.
type StreamWorkflow struct {
	cfg  StreamConfig
	opts workflowOptions

	mu      sync.Mutex
	current *channel.StreamChannel
}

var _ Workflow = (*StreamWorkflow)(nil)

// NewStreamWorkflow creates a StreamWorkflow.
func NewStreamWorkflow(cfg StreamConfig, opts ...WorkflowOption) *StreamWorkflow {
	if cfg.StreamPath == "" {
		cfg.StreamPath = DefaultStreamPath
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &StreamWorkflow{cfg: cfg, opts: newWorkflowOptions(opts)}
}

func (w *StreamWorkflow) Open(ctx context.Context, sessionID, input string, deliver channel.Listener) (string, error) {
	w.closeCurrent(ctx)

	serverID := ""
	if w.cfg.StartPath != "" {
		var resp wire.StartResponse
		if err := w.post(ctx, w.cfg.StartPath, wire.StartRequest{TextInput: input}, &resp); err != nil {
			return "", fmt.Errorf("failed to start conversation: %w", err)
		}
		if resp.ThreadID != "" {
			serverID = resp.ThreadID
			sessionID = resp.ThreadID
		}
	}

	req := wire.StreamRequest{TextInput: input, SessionID: sessionID}
	if serverID != "" {
		req.ThreadID = serverID
	}
	if err := w.stream(ctx, w.cfg.StreamPath, req, deliver); err != nil {
		return "", err
	}
	return serverID, nil
}

func (w *StreamWorkflow) Answer(ctx context.Context, sessionID string, answers []string) ([]domain.Event, error) {
	if w.cfg.ContinuePath == "" {
		return nil, nil
	}
	var resp wire.ContinueResponse
	req := wire.ContinueRequest{SessionID: sessionID, ThreadID: sessionID, Answers: answers}
	if err := w.post(ctx, w.cfg.ContinuePath, req, &resp); err != nil {
		return nil, err
	}
	if resp.Content == "" {
		return nil, nil
	}
	cont, err := wire.ParseContinuation(resp.Content)
	if err != nil {
		return nil, err
	}
	return []domain.Event{domain.ClarifierBatchEvent{
		EventBase: domain.EventBase{SessionID: sessionID},
		Questions: cont.Questions,
		Done:      cont.Done,
	}}, nil
}

func (w *StreamWorkflow) Execute(ctx context.Context, sessionID, input string, answers []string, deliver channel.Listener) error {
	if w.cfg.PipelinePath == "" {
		return nil
	}
	w.closeCurrent(ctx)
	req := wire.StreamRequest{TextInput: input, SessionID: sessionID, ThreadID: sessionID, Answers: answers}
	return w.stream(ctx, w.cfg.PipelinePath, req, deliver)
}

func (w *StreamWorkflow) Persistent() bool { return false }

func (w *StreamWorkflow) Close(ctx context.Context) error {
	w.closeCurrent(ctx)
	return nil
}

func (w *StreamWorkflow) stream(ctx context.Context, path string, body wire.StreamRequest, deliver channel.Listener) error {
	ch := channel.NewStreamChannel(w.cfg.BaseURL+path, body, w.opts.channels...)
	ch.OnEvent(deliver)

	w.mu.Lock()
	w.current = ch
	w.mu.Unlock()

	if err := ch.Open(ctx); err != nil {
		return err
	}
	w.opts.logger.Debug("workflow stream opened", "path", path, "session_id", body.SessionID)
	return nil
}

func (w *StreamWorkflow) closeCurrent(ctx context.Context) {
	w.mu.Lock()
	ch := w.current
	w.current = nil
	w.mu.Unlock()
	if ch != nil {
		ch.Close(ctx, channel.CloseNormal)
	}
}

func (w *StreamWorkflow) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &domain.TransportError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.opts.client.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.TransportError{Op: "read", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return wire.ParseErrorBody(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewDecodeError(body, "invalid response body", err)
	}
	return nil
}

// SocketConfig describes a backend reachable over a persistent WebSocket.
type SocketConfig struct {
	// URL is the ws:// or wss:// base, e.g. ws://localhost:8000.
	URL string `yaml:"url"`
	// Path prefixes the client id. Defaults to /ws/.
	Path     string `yaml:"path"`
	ClientID string `yaml:"client_id"`
}

// Endpoint returns the full socket URL for the client.
func (c SocketConfig) Endpoint() string {
	path := c.Path
	if path == "" {
		path = "/ws/"
	}
	return strings.TrimRight(c.URL, "/") + "/" + strings.Trim(path, "/") + "/" + c.ClientID
}

// SocketWorkflow runs a workflow over one persistent socket. Prompts and
// answers are sent as messages; every event arrives on the same connection.
type SocketWorkflow struct {
	cfg  SocketConfig
	opts workflowOptions

	mu      sync.Mutex
	ch      *channel.SocketChannel
	deliver channel.Listener
}

var _ Workflow = (*SocketWorkflow)(nil)

// NewSocketWorkflow creates a SocketWorkflow. Pass channel.WithReconnector
// through WithChannelOptions to survive transient drops.
func NewSocketWorkflow(cfg SocketConfig, opts ...WorkflowOption) *SocketWorkflow {
	return &SocketWorkflow{cfg: cfg, opts: newWorkflowOptions(opts)}
}

// Channel returns the underlying socket, creating it on first use.
func (w *SocketWorkflow) Channel() *channel.SocketChannel {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ch == nil {
		w.ch = channel.NewSocketChannel(w.cfg.Endpoint(), w.opts.channels...)
		w.ch.OnEvent(w.dispatch)
	}
	return w.ch
}

func (w *SocketWorkflow) dispatch(ctx context.Context, ev domain.Event) {
	w.mu.Lock()
	deliver := w.deliver
	w.mu.Unlock()
	if deliver != nil {
		deliver(ctx, ev)
	}
}

func (w *SocketWorkflow) Open(ctx context.Context, sessionID, input string, deliver channel.Listener) (string, error) {
	ch := w.Channel()
	w.mu.Lock()
	w.deliver = deliver
	w.mu.Unlock()

	if !ch.Connected() {
		if err := ch.Open(ctx); err != nil {
			return "", err
		}
	}
	if err := ch.Send(ctx, wire.PromptMessage(input)); err != nil {
		return "", fmt.Errorf("failed to send prompt: %w", err)
	}
	w.opts.logger.Debug("prompt sent", "session_id", sessionID)
	return "", nil
}

func (w *SocketWorkflow) Answer(ctx context.Context, sessionID string, answers []string) ([]domain.Event, error) {
	ch := w.Channel()
	for _, a := range answers {
		if err := ch.Send(ctx, wire.AnswerMessage(a)); err != nil {
			return nil, fmt.Errorf("failed to send answer: %w", err)
		}
	}
	return nil, nil
}

// Execute is a no-op: the server continues on its own once answered.
func (w *SocketWorkflow) Execute(context.Context, string, string, []string, channel.Listener) error {
	return nil
}

func (w *SocketWorkflow) Persistent() bool { return true }

func (w *SocketWorkflow) Close(ctx context.Context) error {
	w.mu.Lock()
	ch := w.ch
	w.deliver = nil
	w.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Disconnect(ctx)
}
