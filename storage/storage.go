// Package storage provides the string-keyed key-value stores backing the
// local advisory cache. Nothing stored here is authoritative.
package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrClosed = errors.New("store is closed")

// Store is a string key-value store with prefix listing.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	KeysWithPrefix(prefix string) ([]string, error)
	Close() error
}

// MemoryStore keeps entries in a map. Contents are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) KeysWithPrefix(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return keysWithPrefix(m.entries, prefix), nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func keysWithPrefix(entries map[string]string, prefix string) []string {
	keys := make([]string, 0)
	for k := range entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
