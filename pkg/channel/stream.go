package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/frame"
	"github.com/aretw0/prdflow/pkg/wire"
)

// maxErrorBody bounds how much of a non-success response is read.
const maxErrorBody = 64 * 1024

// StreamChannel is a receive-only channel over one streamed HTTP response.
// It is single use: once the body ends or Close is called it cannot be reopened.
type StreamChannel struct {
	dispatcher

	url  string
	body any
	opts options

	mu     sync.Mutex
	opened bool
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Channel = (*StreamChannel)(nil)

// NewStreamChannel creates a channel that POSTs body as JSON to url on Open.
func NewStreamChannel(url string, body any, opts ...Option) *StreamChannel {
	return &StreamChannel{
		url:  url,
		body: body,
		opts: newOptions(opts),
		done: make(chan struct{}),
	}
}

// Open sends the request. It fails with a *domain.BackendError on a
// non-success status and a *domain.TransportError when the request cannot be
// made. ctx bounds the whole stream, not just the request.
func (c *StreamChannel) Open(ctx context.Context) error {
	payload, err := json.Marshal(c.body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return fmt.Errorf("stream channel already opened")
	}
	if c.isClosed() {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	c.opened = true
	lifetime, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(lifetime, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return &domain.TransportError{Op: "open", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	for k, vs := range c.opts.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.opts.client.Do(req)
	if err != nil {
		cancel()
		if c.isClosed() {
			return domain.ErrNotConnected
		}
		return &domain.TransportError{Op: "open", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return wire.ParseErrorBody(resp.StatusCode, body)
	}

	c.opts.logger.Debug("stream opened", "url", c.url, "status", resp.StatusCode)
	go c.run(lifetime, resp.Body)
	return nil
}

func (c *StreamChannel) run(ctx context.Context, body io.ReadCloser) {
	defer close(c.done)
	defer body.Close()

	c.deliver(ctx, domain.StatusEvent{
		EventBase:    domain.EventBase{Timestamp: c.opts.clock.Now()},
		Message:      "connected",
		Connectivity: domain.Connected,
	})

	dec := frame.NewDecoder(body, frame.WithMaxLineSize(c.opts.maxLine))
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			c.opts.logger.Debug("stream ended", "url", c.url)
			c.deliver(ctx, domain.StatusEvent{
				EventBase:    domain.EventBase{Timestamp: c.opts.clock.Now()},
				Message:      "stream ended",
				Connectivity: domain.Disconnected,
				Code:         int(CloseNormal),
			})
			return
		}
		if err != nil {
			if c.isClosed() {
				return
			}
			c.opts.logger.Warn("stream read failed", "url", c.url, "error", err)
			c.deliver(ctx, domain.ErrorEvent{
				EventBase: domain.EventBase{Timestamp: c.opts.clock.Now()},
				Err:       &domain.TransportError{Op: "read", Err: err},
			})
			return
		}

		ev := wire.DecodeRecord(rec, c.opts.clock.Now())
		if e, ok := ev.(domain.ErrorEvent); ok && errors.Is(e.Err, domain.ErrDecode) {
			c.opts.logger.Warn("skipping undecodable record", "error", e.Err)
		}
		c.deliver(ctx, ev)
	}
}

// Send is not supported on a streamed response.
func (c *StreamChannel) Send(context.Context, wire.Outbound) error {
	return domain.ErrSendUnsupported
}

// Close aborts the response and stops delivery.
func (c *StreamChannel) Close(ctx context.Context, reason CloseReason) error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	// Marked before cancelling so the reader treats the abort as deliberate.
	if c.markClosed() {
		c.opts.logger.Debug("stream closed", "url", c.url, "reason", int(reason))
	}
	if cancel != nil {
		cancel()
	}
	c.drain(ctx)
	return nil
}

// Done is closed once the response body has been fully consumed or aborted.
// It never closes if Open did not succeed.
func (c *StreamChannel) Done() <-chan struct{} {
	return c.done
}
