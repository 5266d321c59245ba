package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/wire"
	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

// SocketChannel is a bidirectional channel over a persistent WebSocket.
// Without a Reconnector an unexpected close ends the channel; with one, the
// channel redials on the Reconnector's schedule until Close.
type SocketChannel struct {
	dispatcher

	url  string
	opts options

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	lifetime context.Context
	cancel   context.CancelFunc

	writeMu sync.Mutex
}

var _ Channel = (*SocketChannel)(nil)

// NewSocketChannel creates a channel that dials url (ws:// or wss://) on Open.
func NewSocketChannel(url string, opts ...Option) *SocketChannel {
	lifetime, cancel := context.WithCancel(context.Background())
	return &SocketChannel{
		url:      url,
		opts:     newOptions(opts),
		lifetime: lifetime,
		cancel:   cancel,
	}
}

// Open dials the server. Calling Open while connected is a no-op. When a
// Reconnector is configured, an attempt inside its cooldown fails with
// domain.ErrCooldown.
func (c *SocketChannel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.connect(ctx)
}

// Connected reports whether the socket is currently open.
func (c *SocketChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *SocketChannel) connect(ctx context.Context) error {
	if rc := c.opts.reconnector; rc != nil {
		if err := rc.BeginAttempt(); err != nil {
			return err
		}
	}

	conn, _, err := c.opts.dialer.DialContext(ctx, c.url, c.opts.header)
	if err != nil {
		return &domain.TransportError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return domain.ErrNotConnected
	}
	if c.conn != nil {
		// Lost a race with another dial.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	if rc := c.opts.reconnector; rc != nil {
		rc.Connected()
	}
	c.opts.logger.Info("socket connected", "url", c.url)
	go c.readLoop(conn)
	return nil
}

func (c *SocketChannel) readLoop(conn *websocket.Conn) {
	ctx := c.lifetime
	c.deliver(ctx, domain.StatusEvent{
		EventBase:    domain.EventBase{Timestamp: c.opts.clock.Now()},
		Message:      "connected",
		Connectivity: domain.Connected,
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(ctx, conn, err)
			return
		}
		ev := wire.DecodeMessage(data, c.opts.clock.Now())
		if e, ok := ev.(domain.ErrorEvent); ok && errors.Is(e.Err, domain.ErrDecode) {
			c.opts.logger.Warn("skipping undecodable message", "error", e.Err)
		}
		c.deliver(ctx, ev)
	}
}

func (c *SocketChannel) handleClose(ctx context.Context, conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	code := CloseAbnormal
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = CloseReason(ce.Code)
	}
	c.opts.logger.Info("socket disconnected", "url", c.url, "code", int(code), "error", err)

	c.deliver(ctx, domain.StatusEvent{
		EventBase:    domain.EventBase{Timestamp: c.opts.clock.Now()},
		Message:      "disconnected",
		Connectivity: domain.Disconnected,
		Code:         int(code),
		Final:        c.opts.reconnector == nil || code == CloseNormal,
	})
	c.scheduleReconnect(code)
}

func (c *SocketChannel) scheduleReconnect(code CloseReason) {
	rc := c.opts.reconnector
	if rc == nil {
		return
	}
	rc.Closed(code, c.redial)
}

func (c *SocketChannel) redial() {
	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	err := c.connect(c.lifetime)
	if err == nil {
		return
	}
	if errors.Is(err, ErrReconnectStopped) || errors.Is(err, domain.ErrNotConnected) {
		return
	}
	c.opts.logger.Warn("reconnect failed", "url", c.url, "error", err)
	c.scheduleReconnect(CloseAbnormal)
}

// Send writes msg as JSON. It fails with domain.ErrNotConnected unless the
// socket is open.
func (c *SocketChannel) Send(ctx context.Context, msg wire.Outbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteJSON(msg); err != nil {
		return &domain.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close sends a close frame with reason, stops reconnection, and stops
// delivery. A closed SocketChannel cannot be reopened.
func (c *SocketChannel) Close(ctx context.Context, reason CloseReason) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.drain(ctx)
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.markClosed()
	if rc := c.opts.reconnector; rc != nil {
		rc.Stop()
	}

	if conn != nil {
		err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(int(reason), ""),
			time.Now().Add(closeWriteTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.opts.logger.Debug("close frame not sent", "url", c.url, "error", err)
		}
		conn.Close()
	}
	c.cancel()
	c.drain(ctx)
	c.opts.logger.Info("socket closed", "url", c.url, "reason", int(reason))
	return nil
}

// Disconnect is a deliberate close that never triggers reconnection.
func (c *SocketChannel) Disconnect(ctx context.Context) error {
	return c.Close(ctx, CloseNormal)
}
