// Package file persists conversations as JSON files in a local directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/ports"
)

const (
	ext       = ".json"
	tmpPrefix = "tmp-"
)

// DefaultDir is used when New is given an empty path.
var DefaultDir = filepath.Join(".prdflow", "conversations")

// Store implements ports.ConversationStore using the local filesystem.
// One file per thread; writes are atomic.
type Store struct {
	BasePath string

	// mu orders writes from this process; replicas sharing a directory
	// still need a ports.DistributedLocker.
	mu sync.Mutex
}

var _ ports.ConversationStore = (*Store)(nil)

// New creates a Store rooted at basePath.
func New(basePath string) *Store {
	if basePath == "" {
		basePath = DefaultDir
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(threadID string) (string, error) {
	if threadID == "" {
		return "", errors.New("thread id cannot be empty")
	}
	if strings.ContainsAny(threadID, `/\`) || threadID == "." || threadID == ".." {
		return "", fmt.Errorf("invalid thread id %q", threadID)
	}
	return filepath.Join(s.BasePath, threadID+ext), nil
}

// Save writes the conversation to a temp file in the same directory, syncs
// it and renames it over the destination.
func (s *Store) Save(ctx context.Context, threadID string, c *domain.Conversation) error {
	dest, err := s.path(threadID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure conversation directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.BasePath, tmpPrefix+threadID+"-*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to commit conversation file: %w", err)
	}
	return nil
}

// Load reads a conversation. Every call decodes a fresh value.
func (s *Store) Load(ctx context.Context, threadID string) (*domain.Conversation, error) {
	p, err := s.path(threadID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var c domain.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &c, nil
}

// Delete removes the thread's file. Deleting a missing thread is not an error.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	p, err := s.path(threadID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete conversation file: %w", err)
	}
	return nil
}

// List returns stored thread IDs in lexical order, skipping leftovers of
// interrupted writes.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ext || strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping reports whether the base directory is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("conversation directory unavailable: %w", err)
	}
	return nil
}
