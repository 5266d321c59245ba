package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/ports"
	"github.com/aretw0/prdflow/pkg/session"
)

// Mirror returns hooks that publish every delivered event to pub.
// Publish failures are logged and otherwise ignored.
func Mirror(pub ports.EventPublisher, logger *slog.Logger) session.Hooks {
	var mu sync.Mutex
	sessionID := ""
	return session.Hooks{
		OnTransition: func(_ context.Context, t session.Transition) {
			mu.Lock()
			sessionID = t.Session.ID
			mu.Unlock()
		},
		OnEvent: func(ctx context.Context, ev domain.Event) {
			mu.Lock()
			id := sessionID
			mu.Unlock()
			// Delivery contexts end with the channel; publishing must not.
			ctx = context.WithoutCancel(ctx)
			if err := pub.Publish(ctx, domain.Wrap(id, ev)); err != nil {
				logger.Warn("failed to mirror event", "kind", ev.Kind(), "session_id", id, "err", err)
			}
		},
	}
}
