package prdflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/prdflow/internal/console"
	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/channel"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/observability"
	"github.com/aretw0/prdflow/pkg/ports"
	"github.com/aretw0/prdflow/pkg/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// AnswerFunc supplies the answer to one clarification question.
type AnswerFunc func(ctx context.Context, question string) (string, error)

// Client binds sessions to one backend.
type Client struct {
	workflow    session.Workflow
	reconnector *channel.Reconnector
	logger      *slog.Logger
	metrics     *observability.Metrics
	publisher   ports.EventPublisher
	hooks       []session.Hooks
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger      *slog.Logger
	metrics     *observability.Metrics
	publisher   ports.EventPublisher
	hooks       []session.Hooks
	timeout     time.Duration
	maxLine     int
	policy      *channel.Policy
	clock       channel.Clock
	httpClient  *http.Client
	channelOpts []channel.Option
}

// WithLogger sets the logger of the client and everything it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithMetrics records session and reconnect metrics into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithPublisher mirrors every session event to pub.
func WithPublisher(pub ports.EventPublisher) Option {
	return func(o *clientOptions) { o.publisher = pub }
}

// WithHooks adds session observers.
func WithHooks(h session.Hooks) Option {
	return func(o *clientOptions) { o.hooks = append(o.hooks, h) }
}

// WithTimeout bounds connection setup: response headers on streamed HTTP,
// the handshake on sockets. Streams themselves are bounded by the run's
// context only.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithMaxLineSize bounds one streamed record.
func WithMaxLineSize(n int) Option {
	return func(o *clientOptions) { o.maxLine = n }
}

// WithReconnectPolicy enables socket reconnection with p. Sockets use
// channel.DefaultPolicy when this option is absent.
func WithReconnectPolicy(p channel.Policy) Option {
	return func(o *clientOptions) { o.policy = &p }
}

// WithClock replaces the clock used for reconnection delays.
func WithClock(c channel.Clock) Option {
	return func(o *clientOptions) { o.clock = c }
}

// WithHTTPClient replaces the HTTP client. It takes precedence over WithTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithChannelOptions passes raw options to every channel.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(o *clientOptions) { o.channelOpts = append(o.channelOpts, opts...) }
}

func buildOptions(opts []Option) clientOptions {
	o := clientOptions{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o clientOptions) workflowOptions() []session.WorkflowOption {
	wopts := []session.WorkflowOption{session.WithWorkflowLogger(o.logger)}
	switch {
	case o.httpClient != nil:
		wopts = append(wopts, session.WithHTTPClient(o.httpClient))
	case o.timeout > 0:
		wopts = append(wopts, session.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: o.timeout,
			},
		}))
	}
	copts := append([]channel.Option(nil), o.channelOpts...)
	if o.maxLine > 0 {
		copts = append(copts, channel.WithMaxLineSize(o.maxLine))
	}
	if o.clock != nil {
		copts = append(copts, channel.WithClock(o.clock))
	}
	return append(wopts, session.WithChannelOptions(copts...))
}

func (o clientOptions) client(w session.Workflow, r *channel.Reconnector) *Client {
	return &Client{
		workflow:    w,
		reconnector: r,
		logger:      o.logger,
		metrics:     o.metrics,
		publisher:   o.publisher,
		hooks:       o.hooks,
	}
}

// NewStream creates a client for a streamed HTTP backend.
func NewStream(cfg session.StreamConfig, opts ...Option) *Client {
	o := buildOptions(opts)
	return o.client(session.NewStreamWorkflow(cfg, o.workflowOptions()...), nil)
}

// NewSocket creates a client for a WebSocket backend. The connection is
// reconnected after abnormal closes. An empty ClientID gets a random one.
func NewSocket(cfg session.SocketConfig, opts ...Option) *Client {
	o := buildOptions(opts)
	if cfg.ClientID == "" {
		cfg.ClientID = newClientID()
	}

	policy := channel.DefaultPolicy()
	if o.policy != nil {
		policy = *o.policy
	}
	ropts := []channel.ReconnectOption{channel.WithReconnectLogger(o.logger)}
	if o.metrics != nil {
		ropts = append(ropts, channel.WithScheduleHook(o.metrics.ReconnectHook()))
	}
	r := channel.NewReconnector(policy, o.clock, ropts...)

	extra := []channel.Option{channel.WithReconnector(r)}
	if o.timeout > 0 {
		extra = append(extra, channel.WithDialer(&websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.timeout,
		}))
	}
	wopts := append(o.workflowOptions(), session.WithChannelOptions(extra...))
	return o.client(session.NewSocketWorkflow(cfg, wopts...), r)
}

func newClientID() string {
	return "cli-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Workflow returns the underlying workflow.
func (c *Client) Workflow() session.Workflow { return c.workflow }

// NewSession creates a session wired with the client's logger, metrics,
// mirror and hooks. extra options are applied last.
func (c *Client) NewSession(extra ...session.Option) *session.Session {
	opts := []session.Option{session.WithLogger(c.logger)}
	if c.metrics != nil {
		opts = append(opts, session.WithHooks(c.metrics.Hooks()))
	}
	if c.publisher != nil {
		opts = append(opts, session.WithHooks(observability.Mirror(c.publisher, c.logger)))
	}
	for _, h := range c.hooks {
		opts = append(opts, session.WithHooks(h))
	}
	return session.New(c.workflow, append(opts, extra...)...)
}

// Run performs one workflow run for input, answering each clarification
// question with answer. An empty input is itself asked for through answer.
// A run interrupted before finishing closes the client's transport. It returns the final snapshot; a failed run returns
// its failure too.
func (c *Client) Run(ctx context.Context, input string, answer AnswerFunc) (domain.Session, error) {
	if answer == nil {
		return domain.Session{}, errors.New("prdflow: nil AnswerFunc")
	}
	d := console.NewDriver(&callbackHandler{answer: answer}, console.WithDriverLogger(c.logger))
	s := c.NewSession(session.WithHooks(d.Hooks()))
	snap, err := d.Run(ctx, s, input)
	if snap.State.Active() {
		// Interrupted mid-run: fail the session so streamed delivery stops.
		_ = s.Close(context.WithoutCancel(ctx))
		snap = s.Snapshot()
	}
	return snap, err
}

// Close releases the transport and stops pending reconnects. The publisher
// belongs to the caller and is left open.
func (c *Client) Close(ctx context.Context) error {
	if c.reconnector != nil {
		c.reconnector.Stop()
	}
	if err := c.workflow.Close(ctx); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

// callbackHandler adapts an AnswerFunc to console.Handler.
type callbackHandler struct {
	answer   AnswerFunc
	question string
}

func (h *callbackHandler) Event(context.Context, domain.Event)           {}
func (h *callbackHandler) Transition(context.Context, session.Transition) {}

func (h *callbackHandler) Ask(_ context.Context, question string) error {
	h.question = question
	return nil
}

func (h *callbackHandler) Input(ctx context.Context) (string, error) {
	text, err := h.answer(ctx, h.question)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", session.ErrEmptyInput
	}
	return text, nil
}

func (h *callbackHandler) Result(context.Context, domain.Session, error) error { return nil }
