package storage

import (
	"context"
	"errors"
	"sync"
)

var _ Store = (*InMemory)(nil)

// InMemory is a thread-safe in-memory Store. It backs session-scoped values
// such as the PKCE verifier and doubles as the store used in tests.
type InMemory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewInMemory creates an empty in-memory store
func NewInMemory() *InMemory {
	return &InMemory{
		values: make(map[string]string),
	}
}

// Get returns the value stored under key
func (s *InMemory) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores or replaces the value under key
func (s *InMemory) Set(_ context.Context, key, value string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Delete removes key, missing keys are ignored
func (s *InMemory) Delete(_ context.Context, key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Len returns the number of stored keys
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
