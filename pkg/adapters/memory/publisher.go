package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/ports"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Publisher implements ports.EventPublisher by keeping envelopes in memory.
// It backs the event mirror when no broker is configured.
type Publisher struct {
	mu     sync.Mutex
	events []domain.Envelope
	closed bool
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	p.events = append(p.events, env)
	return nil
}

// Events returns the published envelopes in order.
func (p *Publisher) Events() []domain.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Envelope(nil), p.events...)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
