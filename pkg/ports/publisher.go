package ports

import (
	"context"

	"github.com/aretw0/prdflow/pkg/domain"
)

// EventPublisher mirrors session events to an external bus. Delivery is
// best effort; a failed publish never affects the session.
type EventPublisher interface {
	Publish(ctx context.Context, env domain.Envelope) error
	Close() error
}
