package channel

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/frame"
	"github.com/aretw0/prdflow/pkg/wire"
	"github.com/gorilla/websocket"
)

// Listener receives events. ctx is cancelled when the channel closes; a
// listener that blocks must also watch ctx.Done.
type Listener func(ctx context.Context, ev domain.Event)

// CloseReason is a WebSocket-style close code.
type CloseReason int

const (
	CloseNormal    CloseReason = websocket.CloseNormalClosure
	CloseGoingAway CloseReason = websocket.CloseGoingAway
	CloseAbnormal  CloseReason = websocket.CloseAbnormalClosure
)

// Channel is a source of workflow events.
type Channel interface {
	// Open establishes the transport. Events flow to listeners afterwards.
	Open(ctx context.Context) error
	// Send transmits a client message. Receive-only channels return
	// domain.ErrSendUnsupported.
	Send(ctx context.Context, msg wire.Outbound) error
	// OnEvent registers a listener. Register before Open to see every event.
	OnEvent(l Listener)
	// Close stops delivery. No listener is invoked after Close returns.
	// It is safe to call from inside a listener.
	Close(ctx context.Context, reason CloseReason) error
}

// Option configures a channel.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	clock       Clock
	client      *http.Client
	dialer      *websocket.Dialer
	header      http.Header
	maxLine     int
	reconnector *Reconnector
}

func newOptions(opts []Option) options {
	o := options{
		logger:  logging.NewNop(),
		clock:   SystemClock{},
		client:  http.DefaultClient,
		dialer:  websocket.DefaultDialer,
		maxLine: frame.DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger configures a logger for the channel.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHTTPClient sets the client used by StreamChannel.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithDialer sets the dialer used by SocketChannel.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithHeader adds request headers to the HTTP request or WebSocket handshake.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

// WithMaxLineSize bounds one streamed record.
func WithMaxLineSize(n int) Option {
	return func(o *options) { o.maxLine = n }
}

// WithReconnector enables automatic reconnection of a SocketChannel.
func WithReconnector(r *Reconnector) Option {
	return func(o *options) { o.reconnector = r }
}

// deliveryKey marks contexts passed to listeners.
type deliveryKey struct{}

// dispatcher fans events out to listeners, one event at a time.
type dispatcher struct {
	mu        sync.Mutex
	listeners []Listener
	closed    bool

	// deliverMu is held for the whole of one delivery.
	deliverMu sync.Mutex
}

func (d *dispatcher) OnEvent(l Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

func (d *dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *dispatcher) deliver(ctx context.Context, ev domain.Event) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()

	dctx := context.WithValue(ctx, deliveryKey{}, d)
	for _, l := range listeners {
		if d.isClosed() {
			return
		}
		l(dctx, ev)
	}
}

// markClosed stops further deliveries. It reports whether this call
// performed the transition.
func (d *dispatcher) markClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	first := !d.closed
	d.closed = true
	return first
}

// drain waits for the in-flight delivery to return, unless ctx belongs to
// one of this dispatcher's own deliveries.
func (d *dispatcher) drain(ctx context.Context) {
	if owner, _ := ctx.Value(deliveryKey{}).(*dispatcher); owner == d {
		return
	}
	// The in-flight delivery holds deliverMu.
	d.deliverMu.Lock()
	d.deliverMu.Unlock()
}
