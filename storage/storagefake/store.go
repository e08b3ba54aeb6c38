// Package storagefake provides a storage.Store whose operations can be made
// to fail per key.
package storagefake

import (
	"context"
	"sync"

	"github.com/jrsteele09/imhotep-client/storage"
)

type Store struct {
	*storage.InMemory

	mu         sync.Mutex
	failGet    map[string]error
	failSet    map[string]error
	failDelete map[string]error
	holdSet    map[string]*hold
	deletes    []string
}

type hold struct {
	reached chan struct{}
	release chan struct{}
}

func New() *Store {
	return &Store{
		InMemory:   storage.NewInMemory(),
		failGet:    map[string]error{},
		failSet:    map[string]error{},
		failDelete: map[string]error{},
		holdSet:    map[string]*hold{},
	}
}

func (s *Store) FailGet(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet[key] = err
}

func (s *Store) FailSet(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSet[key] = err
}

func (s *Store) FailDelete(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete[key] = err
}

// HoldSet makes the next Set of key wait until release is called. reached is
// closed once that Set has arrived.
func (s *Store) HoldSet(key string) (reached <-chan struct{}, release func()) {
	h := &hold{reached: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.holdSet[key] = h
	s.mu.Unlock()
	var once sync.Once
	return h.reached, func() { once.Do(func() { close(h.release) }) }
}

// Deletes lists every key passed to Delete, in order.
func (s *Store) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	err := s.failGet[key]
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.InMemory.Get(ctx, key)
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	err := s.failSet[key]
	h := s.holdSet[key]
	delete(s.holdSet, key)
	s.mu.Unlock()
	if h != nil {
		close(h.reached)
		<-h.release
	}
	if err != nil {
		return err
	}
	return s.InMemory.Set(ctx, key, value)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, key)
	err := s.failDelete[key]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.InMemory.Delete(ctx, key)
}
