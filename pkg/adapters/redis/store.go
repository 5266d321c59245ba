package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix is the key prefix for stored conversations.
const DefaultPrefix = "prdflow:thread:"

// Store implements ports.ConversationStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var _ ports.ConversationStore = (*Store)(nil)

type Option func(*Store)

// WithTTL sets the expiration for threads.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for threads.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(threadID string) string {
	return s.prefix + threadID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save persists the conversation as JSON and indexes it in a sorted set
// scored by its expiry.
func (s *Store) Save(ctx context.Context, threadID string, c *domain.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(threadID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: threadID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves the conversation from Redis.
func (s *Store) Load(ctx context.Context, threadID string) (*domain.Conversation, error) {
	val, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var c domain.Conversation
	if err := json.Unmarshal(val, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &c, nil
}

// Delete removes the thread and its index entry.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns live thread IDs, pruning expired index entries first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired threads: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return ids, nil
}

// Ping checks connectivity; the backend health probe uses it.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
