package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/ports"
	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long a distributed thread lock is held.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to clarification threads. Locks are reference
// counted and dropped once unused.
type Manager struct {
	store ports.ConversationStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
	newID   func() string
	now     func() time.Time
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) ManagerOption {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithManagerLogger configures a logger for the Manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithThreadIDs replaces the random thread id generator.
func WithThreadIDs(f func() string) ManagerOption {
	return func(m *Manager) {
		m.newID = f
	}
}

// NewManager creates a Manager over store.
func NewManager(store ports.ConversationStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) acquire(threadID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[threadID]
	if !exists {
		entry = &lockEntry{}
		m.locks[threadID] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[threadID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, threadID)
	}
}

// Start opens a thread whose first question is answered by input; the
// remaining questions wait for the client.
func (m *Manager) Start(ctx context.Context, input string) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:      m.newID(),
		Input:   input,
		Round:   1,
		Started: m.now().UTC(),
	}
	for i, q := range ClarifierQuestions {
		qa := domain.QA{Question: q}
		if i == 0 {
			qa.Answer, qa.Answered = input, true
		}
		c.Questions = append(c.Questions, qa)
	}
	if err := m.Save(ctx, c.ID, c); err != nil {
		return nil, err
	}
	m.logger.Debug("thread started", "thread_id", c.ID)
	return c, nil
}

// StartAnswered opens a thread whose clarification is already complete,
// filled with canned answers. One-shot streams use it.
func (m *Manager) StartAnswered(ctx context.Context, input string) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:      m.newID(),
		Input:   input,
		Round:   1,
		Started: m.now().UTC(),
	}
	answers := []string{input}
	for i := 1; i < len(ClarifierQuestions); i++ {
		answers = append(answers, fmt.Sprintf("Mock answer to question %d", i+1))
	}
	for _, q := range ClarifierQuestions {
		c.Questions = append(c.Questions, domain.QA{Question: q})
	}
	c.Fill(answers)
	c.Round = 1
	if err := m.Save(ctx, c.ID, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Continue pairs answers with the thread's pending questions.
func (m *Manager) Continue(ctx context.Context, threadID string, answers []string) (*domain.Conversation, error) {
	return m.Update(ctx, threadID, func(c *domain.Conversation) error {
		c.Fill(answers)
		return nil
	})
}

// Update loads a thread, applies fn and saves the result under the thread lock.
func (m *Manager) Update(ctx context.Context, threadID string, fn func(*domain.Conversation) error) (*domain.Conversation, error) {
	var out *domain.Conversation
	err := m.WithLock(ctx, threadID, func(ctx context.Context) error {
		c, err := m.store.Load(ctx, threadID)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		if err := m.store.Save(ctx, threadID, c); err != nil {
			return fmt.Errorf("failed to save thread: %w", err)
		}
		out = c
		return nil
	})
	return out, err
}

// Load retrieves an existing thread from the store.
func (m *Manager) Load(ctx context.Context, threadID string) (*domain.Conversation, error) {
	var c *domain.Conversation
	err := m.WithLock(ctx, threadID, func(ctx context.Context) error {
		var err error
		c, err = m.store.Load(ctx, threadID)
		return err
	})
	return c, err
}

// Save persists the thread.
func (m *Manager) Save(ctx context.Context, threadID string, c *domain.Conversation) error {
	return m.WithLock(ctx, threadID, func(ctx context.Context) error {
		return m.store.Save(ctx, threadID, c)
	})
}

// Delete removes the thread from the store.
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	return m.WithLock(ctx, threadID, func(ctx context.Context) error {
		return m.store.Delete(ctx, threadID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// WithLock executes fn while holding the local and, if configured, the
// distributed lock for the thread.
func (m *Manager) WithLock(ctx context.Context, threadID string, fn func(context.Context) error) error {
	entry := m.acquire(threadID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(threadID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, threadID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"thread_id", threadID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// IsNotFound reports whether err means the thread does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound)
}
