package ports

import (
	"context"
	"time"
)

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker defines the interface for distributed concurrency control.
// The backend uses it to serialize updates to one thread across replicas.
type DistributedLocker interface {
	// Lock acquires a lock for key (a thread ID). It blocks until the lock is
	// acquired or the context is canceled. The lock expires after ttl.
	// Returns an UnlockFunc that MUST be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
