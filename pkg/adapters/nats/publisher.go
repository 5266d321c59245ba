// Package nats mirrors session events onto NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/ports"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root; events go to
// <prefix>.<session id>.<kind>.
const DefaultSubjectPrefix = "prdflow.session"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// Publisher implements ports.EventPublisher over a NATS connection.
type Publisher struct {
	conn   Conn
	prefix string

	mu     sync.Mutex
	closed bool
}

var _ ports.EventPublisher = (*Publisher)(nil)

type Option func(*Publisher)

// WithSubjectPrefix replaces DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) { p.prefix = strings.TrimSuffix(prefix, ".") }
}

// Connect dials url and returns a Publisher owning the connection.
func Connect(url string, opts ...Option) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("prdflow"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return New(nc, opts...), nil
}

// New wraps an existing connection.
func New(conn Conn, opts ...Option) *Publisher {
	p := &Publisher{conn: conn, prefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subject returns the subject an envelope is published on.
func (p *Publisher) Subject(env domain.Envelope) string {
	id := env.SessionID
	if id == "" {
		id = "_"
	}
	// Subject tokens can't contain dots or whitespace.
	id = strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, id)
	return p.prefix + "." + id + "." + string(env.Kind)
}

// Publish marshals env as JSON and publishes it. NATS publishes are
// fire-and-forget, so the context is only checked beforehand.
func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nats.ErrConnectionClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.conn.Publish(p.Subject(env), data); err != nil {
		return fmt.Errorf("publish %s: %w", env.Kind, err)
	}
	return nil
}

// Close flushes pending messages and drains the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		_ = p.conn.Drain()
		return fmt.Errorf("flush NATS connection: %w", err)
	}
	return p.conn.Drain()
}
