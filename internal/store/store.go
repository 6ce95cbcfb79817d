// Package store provides the key-value persistence used by wayfinder for the
// gateway registry and cached candidate pools.
//
// The engine treats storage as an opaque async collaborator; three backends
// are provided: in-memory (tests, ephemeral runs), sqlite, and redis.
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// KV is the opaque key-value collaborator. Missing keys are simply absent
// from the returned map, never an error.
type KV interface {
	// Get returns the values for the given keys.
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)

	// Set writes all entries atomically where the backend allows it.
	Set(ctx context.Context, entries map[string][]byte) error

	// Remove deletes the given keys. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error

	// Close releases backend resources.
	Close() error
}

// Memory is an in-memory KV implementation.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get implements KV.
func (m *Memory) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

// Set implements KV.
func (m *Memory) Set(ctx context.Context, entries map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for k, v := range entries {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.data[k] = cp
	}
	return nil
}

// Remove implements KV.
func (m *Memory) Remove(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Close implements KV.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
